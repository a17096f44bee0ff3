package xid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNormal(t *testing.T) {
	assert.False(t, Invalid.IsNormal())
	assert.False(t, Bootstrap.IsNormal())
	assert.False(t, Frozen.IsNormal())
	assert.True(t, FirstNormal.IsNormal())
	assert.True(t, TransactionID(100).IsNormal())
}

func TestTransactionIDString(t *testing.T) {
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "frozen", Frozen.String())
	assert.Equal(t, "742", TransactionID(742).String())
}

func TestParse(t *testing.T) {
	id, err := Parse("4294967295")
	require.NoError(t, err)
	assert.Equal(t, TransactionID(4294967295), id)

	_, err = Parse("4294967296")
	assert.Error(t, err)

	_, err = Parse("-1")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"committed":   Committed,
		"c":           Committed,
		"aborted":     Aborted,
		"abort":       Aborted,
		"in progress": InProgress,
		"running":     InProgress,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("maybe")
	assert.Error(t, err)
}

func TestStatusIsFinal(t *testing.T) {
	assert.True(t, Committed.IsFinal())
	assert.True(t, Aborted.IsFinal())
	assert.False(t, InProgress.IsFinal())
}

func TestTIDLess(t *testing.T) {
	assert.True(t, TID{Block: 0, Line: 5}.Less(TID{Block: 1, Line: 1}))
	assert.True(t, TID{Block: 2, Line: 1}.Less(TID{Block: 2, Line: 2}))
	assert.False(t, TID{Block: 2, Line: 2}.Less(TID{Block: 2, Line: 2}))
	assert.Equal(t, "(3,7)", TID{Block: 3, Line: 7}.String())
}
