package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObligationKeyEncoding(t *testing.T) {
	ana := ByParticipant("Ana")
	assert.Equal(t, "p:Ana", ana.Encode())

	item := ByItem(42)
	assert.Equal(t, "i:42", item.Encode())

	decoded, err := DecodeObligationKey("p:Ana: the second")
	require.NoError(t, err)
	assert.Equal(t, ByParticipant("Ana: the second"), decoded)

	_, err = DecodeObligationKey("x:1")
	assert.Error(t, err)
	_, err = DecodeObligationKey("i:zero")
	assert.Error(t, err)
}

func TestObligationKeyJSON(t *testing.T) {
	data, err := json.Marshal([]ObligationKey{ByParticipant("Bob"), ByItem(7)})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"participant":"Bob"},{"itemId":7}]`, string(data))

	var keys []ObligationKey
	require.NoError(t, json.Unmarshal(data, &keys))
	assert.Equal(t, []ObligationKey{ByParticipant("Bob"), ByItem(7)}, keys)

	var bad ObligationKey
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"participant":"A","itemId":1}`), &bad))
}

func TestDeriveObligationsPartitionsItems(t *testing.T) {
	items := []OrderItem{
		{ID: 1, OwnerLabel: "Ana", Quantity: 2, UnitPrice: NewMoney(5, 0), State: ItemStatePending},
		{ID: 2, OwnerLabel: "Bob", Quantity: 1, UnitPrice: NewMoney(10, 0), State: ItemStatePending},
		{ID: 3, OwnerLabel: "Ana", Quantity: 1, UnitPrice: NewMoney(2, 50), State: ItemStatePreparing},
		{ID: 4, OwnerLabel: StaffOwnerLabel, Quantity: 1, UnitPrice: NewMoney(3, 0), State: ItemStatePending},
		{ID: 5, OwnerLabel: "", Quantity: 2, UnitPrice: NewMoney(1, 0), State: ItemStatePending},
		{ID: 6, OwnerLabel: "Bob", Quantity: 1, UnitPrice: NewMoney(99, 0), State: ItemStateCancelled},
	}

	obligations := DeriveObligations(items)
	require.Len(t, obligations, 4)

	assert.Equal(t, ByParticipant("Ana"), obligations[0].Key)
	assert.Equal(t, NewMoney(12, 50), obligations[0].Subtotal)
	assert.Equal(t, []uint{1, 3}, obligations[0].ItemIDs)

	assert.Equal(t, ByParticipant("Bob"), obligations[1].Key)
	assert.Equal(t, NewMoney(10, 0), obligations[1].Subtotal)

	assert.Equal(t, ByItem(4), obligations[2].Key)
	assert.Equal(t, ByItem(5), obligations[3].Key)
	assert.Equal(t, NewMoney(2, 0), obligations[3].Subtotal)

	// setiap item yang ditagih muncul tepat satu kali
	seen := map[uint]int{}
	var sum Money
	for _, ob := range obligations {
		sum += ob.Subtotal
		for _, id := range ob.ItemIDs {
			seen[id]++
		}
	}
	assert.Equal(t, RecomputeTotal(items), sum)
	assert.Equal(t, map[uint]int{1: 1, 2: 1, 3: 1, 4: 1, 5: 1}, seen)
}

func TestDeriveOrderState(t *testing.T) {
	items := []OrderItem{
		{ID: 1, Quantity: 1, State: ItemStateServed},
		{ID: 2, Quantity: 1, State: ItemStateDelivered},
		{ID: 3, Quantity: 1, State: ItemStateCancelled},
	}
	assert.Equal(t, OrderStateDelivered, DeriveOrderState(OrderStatePreparing, items))

	items[1].State = ItemStateServed
	assert.Equal(t, OrderStateServed, DeriveOrderState(OrderStatePreparing, items))

	items[0].State = ItemStatePreparing
	assert.Equal(t, OrderStatePreparing, DeriveOrderState(OrderStateDelivered, items))

	assert.Equal(t, OrderStatePending, DeriveOrderState(OrderStatePending, items))
	assert.Equal(t, OrderStateClosed, DeriveOrderState(OrderStateClosed, items))
}
