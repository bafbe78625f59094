package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/yeremiapane/table-sync/models"
	"github.com/zeebo/blake3"
)

const (
	correlationMACSize = 16
	maxCorrelationKeys = 16
)

var ErrInvalidCorrelation = fmt.Errorf("correlation reference %w", models.ErrNotFound)

// CorrelationClaims adalah isi token korelasi. Nominal tidak pernah ikut di dalamnya.
type CorrelationClaims struct {
	OrderID  uint     `cbor:"1,keyasint"`
	Keys     []string `cbor:"2,keyasint"`
	Nonce    []byte   `cbor:"3,keyasint"`
	IssuedAt int64    `cbor:"4,keyasint"`
}

func (c CorrelationClaims) ObligationKeys() ([]models.ObligationKey, error) {
	keys := make([]models.ObligationKey, 0, len(c.Keys))
	for _, raw := range c.Keys {
		key, err := models.DecodeObligationKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CorrelationCodec membuat token opaque base64url(cbor || mac) yang ditandatangani
// dengan BLAKE3 keyed hash, sehingga webhook palsu tidak bisa menunjuk obligation lain.
type CorrelationCodec struct {
	key  [32]byte
	encM cbor.EncMode
}

func NewCorrelationCodec(secret string) (*CorrelationCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("correlation secret is empty")
	}
	encM, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	return &CorrelationCodec{
		key:  blake3.Sum256([]byte("table-sync correlation v1\x00" + secret)),
		encM: encM,
	}, nil
}

func (c *CorrelationCodec) mac(payload []byte) ([]byte, error) {
	hasher, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		return nil, err
	}
	hasher.Write(payload)
	return hasher.Sum(nil)[:correlationMACSize], nil
}

func (c *CorrelationCodec) Encode(orderID uint, keys []models.ObligationKey) (string, error) {
	if len(keys) == 0 || len(keys) > maxCorrelationKeys {
		return "", fmt.Errorf("%w: between 1 and %d obligation keys per attempt", models.ErrInvalidState, maxCorrelationKeys)
	}
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	claims := CorrelationClaims{OrderID: orderID, Nonce: nonce, IssuedAt: time.Now().Unix()}
	for _, key := range keys {
		claims.Keys = append(claims.Keys, key.Encode())
	}
	payload, err := c.encM.Marshal(claims)
	if err != nil {
		return "", err
	}
	sum, err := c.mac(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(append(payload, sum...)), nil
}

func (c *CorrelationCodec) Decode(token string) (*CorrelationClaims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= correlationMACSize {
		return nil, ErrInvalidCorrelation
	}
	payload, sum := raw[:len(raw)-correlationMACSize], raw[len(raw)-correlationMACSize:]
	expected, err := c.mac(payload)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(sum, expected) != 1 {
		return nil, ErrInvalidCorrelation
	}
	var claims CorrelationClaims
	if err := cbor.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidCorrelation
	}
	return &claims, nil
}
