package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_JSON(t *testing.T) {
	data, err := EncodeBucket(Bucket{Tokens: 4, LastRefillMs: 1_700_000_000_000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tokens":4,"last_refill_ms":1700000000000}`, string(data))

	b, err := DecodeBucket(data)
	require.NoError(t, err)
	assert.Equal(t, Bucket{Tokens: 4, LastRefillMs: 1_700_000_000_000}, b)
}

func TestCodec_JSONMalformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"tokens":4}`,
		`{"last_refill_ms":10}`,
		`{"tokens":-1,"last_refill_ms":10}`,
		`{"tokens":"four","last_refill_ms":10}`,
	} {
		_, err := DecodeBucket([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedBucket, in)
	}
}

func TestCodec_Fields(t *testing.T) {
	fields := BucketFields(Bucket{Tokens: 9, LastRefillMs: 42})
	assert.Equal(t, map[string]string{"tokens": "9", "last_refill_ms": "42"}, fields)

	b, ok, err := BucketFromFields(fields)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Bucket{Tokens: 9, LastRefillMs: 42}, b)

	_, ok, err = BucketFromFields(map[string]string{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = BucketFromFields(map[string]string{"tokens": "1"})
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformedBucket)

	_, _, err = BucketFromFields(map[string]string{"tokens": "x", "last_refill_ms": "1"})
	assert.ErrorIs(t, err, ErrMalformedBucket)
}
