package lob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSmallValueInline(t *testing.T) {
	m := NewManager()
	loc, err := m.Insert(AccessParam{}, []byte("short"))
	require.NoError(t, err)
	assert.True(t, loc.Inline)
}

func TestInsertLargeValueOutOfRow(t *testing.T) {
	m := NewManager()
	big := bytes.Repeat([]byte("x"), inlineThreshold+1)
	loc, err := m.Insert(AccessParam{}, big)
	require.NoError(t, err)
	assert.False(t, loc.Inline)
	assert.NotZero(t, loc.LogicalID)

	got, err := m.Read(AccessParam{}, loc)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestUpdateErasesPriorChunk(t *testing.T) {
	m := NewManager()
	big := bytes.Repeat([]byte("x"), inlineThreshold+1)
	loc, err := m.Insert(AccessParam{}, big)
	require.NoError(t, err)

	newLoc, err := m.Update(AccessParam{}, loc, []byte("short"))
	require.NoError(t, err)
	assert.True(t, newLoc.Inline)

	_, err = m.Read(AccessParam{}, loc)
	assert.ErrorIs(t, err, ErrLobNotFound)
}

func TestDeleteNotFound(t *testing.T) {
	m := NewManager()
	err := m.Delete(AccessParam{}, Locator{LogicalID: 999})
	assert.ErrorIs(t, err, ErrLobNotFound)
}
