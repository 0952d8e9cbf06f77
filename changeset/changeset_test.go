package changeset_test

import (
	"math/big"
	"testing"

	"github.com/relaycoder/opor/changeset"
	"github.com/relaycoder/opor/oporerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEmptyChangeset(t *testing.T) {
	s, err := changeset.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}

func TestRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	tuples := []changeset.Tuple{
		{
			Table:      "users",
			PK:         "1",
			ColVersion: huge,
			DbVersion:  big.NewInt(4),
			SiteID:     big.NewInt(9),
			CL:         1,
			Seq:        2,
			Value:      "Alice",
		},
	}

	encoded, err := changeset.Encode(tuples)
	require.NoError(t, err)
	assert.Contains(t, encoded, "BIGINT::123456789012345678901234567890")

	decoded, err := changeset.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "users", decoded[0].Table)
	assert.Equal(t, 0, huge.Cmp(decoded[0].ColVersion))
	assert.Equal(t, "Alice", decoded[0].Value)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := changeset.Decode("this is not json")
	require.Error(t, err)
	_, ok := oporerr.As[*oporerr.InvalidChangeset](err)
	assert.True(t, ok)
}

func TestDecodeWrongTupleLength(t *testing.T) {
	_, err := changeset.Decode(`[["t","pk",1,2,3]]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid changeset format.")
}
