package tablet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeserializeIDMatchesFullDeserialize(t *testing.T) {
	tab := newTestTablet(t)
	buf, err := tab.Serialize()
	require.NoError(t, err)

	id, err := DeserializeID(buf)
	require.NoError(t, err)
	assert.Equal(t, tab.Key(), id)

	full, err := LoadDeserialize(buf, newFakeMemtableManager())
	require.NoError(t, err)
	assert.Equal(t, tab.Key(), full.Key())
}

func TestDeserializeIDRejectsTruncatedBuffer(t *testing.T) {
	_, err := DeserializeID([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDeserializeIDRejectsBadVersion(t *testing.T) {
	tab := newTestTablet(t)
	buf, err := tab.Serialize()
	require.NoError(t, err)
	buf[0] = 0xFF

	_, err = DeserializeID(buf)
	assert.Error(t, err)
}
