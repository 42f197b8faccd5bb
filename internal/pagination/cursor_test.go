package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	encoded := Encode(ts, "ntf_abc123")
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, "ntf_abc123", cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)

	// Valid base64 but missing the separator.
	_, err = Decode("bm9waXBl")
	assert.Error(t, err)
}

func TestComputePage(t *testing.T) {
	type row struct {
		id string
		at time.Time
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []row{
		{"ntf_3", base.Add(3 * time.Second)},
		{"ntf_2", base.Add(2 * time.Second)},
		{"ntf_1", base.Add(time.Second)},
	}
	key := func(r row) (time.Time, string) { return r.at, r.id }

	// Fetched limit+1: a next page exists.
	page, next, more := ComputePage(rows, 2, key)
	require.Len(t, page, 2)
	assert.True(t, more)
	cursor, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "ntf_2", cursor.ID)

	// Fewer rows than the limit: final page.
	page, next, more = ComputePage(rows, 5, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, more)
}
