package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSetGet(t *testing.T) {
	r := NewRingHorizon(8)
	se := NewStorageElement(1)
	r.Set(42, se)
	assert.Same(t, se, r.Get(42))
	assert.Nil(t, r.Get(41))
	assert.Nil(t, r.Get(43))
	// slot 42+8 maps to the same position but a different wrap
	assert.Nil(t, r.Get(50))
}

func TestRingActiveLength(t *testing.T) {
	r := NewRingHorizon(8)
	for ts := 10; ts < 14; ts++ {
		r.Set(ts, NewStorageElement(ts-9))
	}
	assert.Equal(t, 4, r.ActiveLength(10))
	assert.Equal(t, 3, r.ActiveLength(11))
	assert.Equal(t, 0, r.ActiveLength(14))
	assert.Len(t, r.AsList(10), 4)
}

func TestRingCleanDropsStaleWrap(t *testing.T) {
	r := NewRingHorizon(8)
	r.Set(2, NewStorageElement(1))
	r.Set(3, NewStorageElement(1))
	// advance one full wrap; slot 2 would collide with slot 10
	r.Clean(8)
	assert.Nil(t, r.Get(2))
	assert.Nil(t, r.Get(3))
	r.Set(10, NewStorageElement(1))
	assert.NotNil(t, r.Get(10))
}

func TestRingOverflowPanics(t *testing.T) {
	r := NewRingHorizon(8)
	r.Clean(10)
	require.Panics(t, func() {
		r.Set(18, NewStorageElement(1))
	})
	require.NotPanics(t, func() {
		r.Set(17, NewStorageElement(1))
	})
}

func TestRingClear(t *testing.T) {
	r := NewRingHorizon(8)
	r.Set(5, NewStorageElement(1))
	r.Clear()
	assert.Nil(t, r.Get(5))
	assert.Equal(t, 0, r.ActiveLength(5))
}
