package cart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobRoundTrip(t *testing.T) {
	entries := []Entry{
		{SKUID: 3, Quantity: 2, Selected: true},
		{SKUID: 1, Quantity: 5, Selected: false},
		{SKUID: 7, Quantity: 1, Selected: true},
	}

	blob, err := EncodeBlob(entries)
	require.NoError(t, err)

	decoded, err := DecodeBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)
}

func TestDecodeBlobEmpty(t *testing.T) {
	decoded, err := DecodeBlob("")
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeBlobMalformed(t *testing.T) {
	_, err := DecodeBlob("not base64 at all!!!")
	assert.Error(t, err)

	// Valid base64, invalid payload
	_, err = DecodeBlob("bm90IGpzb24=")
	assert.Error(t, err)
}

func TestCookieStoreAddSumsQuantity(t *testing.T) {
	ctx := context.Background()
	st, err := NewCookieStore("")
	require.NoError(t, err)

	require.NoError(t, st.Add(ctx, Entry{SKUID: 1, Quantity: 2, Selected: true}))
	require.NoError(t, st.Add(ctx, Entry{SKUID: 1, Quantity: 3, Selected: true}))

	entries, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Quantity)
	assert.True(t, entries[0].Selected)
}

func TestCookieStoreSetOverwrites(t *testing.T) {
	ctx := context.Background()
	st, err := NewCookieStore("")
	require.NoError(t, err)

	require.NoError(t, st.Add(ctx, Entry{SKUID: 1, Quantity: 2, Selected: true}))
	require.NoError(t, st.Set(ctx, Entry{SKUID: 1, Quantity: 9, Selected: false}))

	entries, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 9, entries[0].Quantity)
	assert.False(t, entries[0].Selected)
}

func TestCookieStoreKeepsFirstAddOrder(t *testing.T) {
	ctx := context.Background()
	st, err := NewCookieStore("")
	require.NoError(t, err)

	require.NoError(t, st.Add(ctx, Entry{SKUID: 9, Quantity: 1, Selected: true}))
	require.NoError(t, st.Add(ctx, Entry{SKUID: 2, Quantity: 1, Selected: true}))
	require.NoError(t, st.Add(ctx, Entry{SKUID: 5, Quantity: 1, Selected: true}))
	// Re-adding an existing sku must not move it
	require.NoError(t, st.Add(ctx, Entry{SKUID: 2, Quantity: 1, Selected: true}))

	blob, err := st.Blob()
	require.NoError(t, err)
	reloaded, err := NewCookieStore(blob)
	require.NoError(t, err)

	entries, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(9), entries[0].SKUID)
	assert.Equal(t, int64(2), entries[1].SKUID)
	assert.Equal(t, int64(5), entries[2].SKUID)
	assert.Equal(t, 2, entries[1].Quantity)
}

func TestCookieStoreRemove(t *testing.T) {
	ctx := context.Background()
	st, err := NewCookieStore("")
	require.NoError(t, err)

	require.NoError(t, st.Add(ctx, Entry{SKUID: 1, Quantity: 1, Selected: true}))
	require.NoError(t, st.Add(ctx, Entry{SKUID: 2, Quantity: 1, Selected: true}))
	require.NoError(t, st.Remove(ctx, 1))
	// Removing an absent sku is a no-op
	require.NoError(t, st.Remove(ctx, 42))

	entries, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].SKUID)
	assert.False(t, st.Empty())

	require.NoError(t, st.Clear(ctx, []int64{2}))
	assert.True(t, st.Empty())
}
