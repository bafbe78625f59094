package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StaffOwnerLabel menandai item yang diinput staff; item seperti ini dibayar per item.
const StaffOwnerLabel = "__staff__"

type ObligationKind uint8

const (
	ByParticipantKind ObligationKind = iota + 1
	ByItemKind
)

// ObligationKey adalah satuan pembagian tagihan: nama peserta atau satu item tanpa pemilik.
type ObligationKey struct {
	Kind        ObligationKind
	Participant string
	ItemID      uint
}

func ByParticipant(name string) ObligationKey {
	return ObligationKey{Kind: ByParticipantKind, Participant: name}
}

func ByItem(itemID uint) ObligationKey {
	return ObligationKey{Kind: ByItemKind, ItemID: itemID}
}

func (k ObligationKey) IsZero() bool {
	return k.Kind == 0
}

// Encode menghasilkan bentuk teks yang disimpan di kolom obligation_key.
func (k ObligationKey) Encode() string {
	switch k.Kind {
	case ByParticipantKind:
		return "p:" + k.Participant
	case ByItemKind:
		return "i:" + strconv.FormatUint(uint64(k.ItemID), 10)
	default:
		return ""
	}
}

func (k ObligationKey) String() string {
	if k.Kind == ByItemKind {
		return fmt.Sprintf("item #%d", k.ItemID)
	}
	return k.Participant
}

func DecodeObligationKey(s string) (ObligationKey, error) {
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ObligationKey{}, fmt.Errorf("malformed obligation key %q", s)
	}
	switch prefix {
	case "p":
		if rest == "" {
			return ObligationKey{}, fmt.Errorf("empty participant in obligation key")
		}
		return ByParticipant(rest), nil
	case "i":
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil || id == 0 {
			return ObligationKey{}, fmt.Errorf("malformed item obligation key %q", s)
		}
		return ByItem(uint(id)), nil
	}
	return ObligationKey{}, fmt.Errorf("unknown obligation key prefix %q", prefix)
}

type obligationKeyJSON struct {
	Participant *string `json:"participant,omitempty"`
	ItemID      *uint   `json:"itemId,omitempty"`
}

func (k ObligationKey) MarshalJSON() ([]byte, error) {
	switch k.Kind {
	case ByParticipantKind:
		return json.Marshal(obligationKeyJSON{Participant: &k.Participant})
	case ByItemKind:
		return json.Marshal(obligationKeyJSON{ItemID: &k.ItemID})
	}
	return []byte("null"), nil
}

func (k *ObligationKey) UnmarshalJSON(data []byte) error {
	var raw obligationKeyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Participant != nil && raw.ItemID != nil:
		return fmt.Errorf("obligation key has both participant and itemId")
	case raw.Participant != nil && *raw.Participant != "":
		*k = ByParticipant(*raw.Participant)
	case raw.ItemID != nil && *raw.ItemID != 0:
		*k = ByItem(*raw.ItemID)
	default:
		return fmt.Errorf("obligation key needs participant or itemId")
	}
	return nil
}

func (k ObligationKey) Value() (driver.Value, error) {
	if k.IsZero() {
		return nil, fmt.Errorf("empty obligation key")
	}
	return k.Encode(), nil
}

func (k *ObligationKey) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ObligationKey", value)
	}
	decoded, err := DecodeObligationKey(s)
	if err != nil {
		return err
	}
	*k = decoded
	return nil
}

// KeyForItem menentukan obligation key sebuah item.
func KeyForItem(item OrderItem) ObligationKey {
	if item.OwnerLabel == "" || item.OwnerLabel == StaffOwnerLabel {
		return ByItem(item.ID)
	}
	return ByParticipant(item.OwnerLabel)
}

// Obligation adalah subtotal satu key dari item order saat ini.
type Obligation struct {
	Key      ObligationKey `json:"key"`
	Subtotal Money         `json:"subtotal"`
	ItemIDs  []uint        `json:"itemIds"`
}

// DeriveObligations mempartisi item yang tidak dibatalkan ke obligation key masing-masing.
// Urutan hasil stabil: peserta menurut nama, lalu item menurut id.
func DeriveObligations(items []OrderItem) []Obligation {
	byKey := make(map[string]*Obligation)
	for _, item := range items {
		if !item.Billable() {
			continue
		}
		key := KeyForItem(item)
		ob, ok := byKey[key.Encode()]
		if !ok {
			ob = &Obligation{Key: key}
			byKey[key.Encode()] = ob
		}
		ob.Subtotal += item.LineTotal()
		ob.ItemIDs = append(ob.ItemIDs, item.ID)
	}

	result := make([]Obligation, 0, len(byKey))
	for _, ob := range byKey {
		result = append(result, *ob)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Key, result[j].Key
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Kind == ByParticipantKind {
			return a.Participant < b.Participant
		}
		return a.ItemID < b.ItemID
	})
	return result
}
