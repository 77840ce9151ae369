// internal/types/ids_test.go
package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	assert.NotEmpty(t, id)
	assert.Len(t, string(id), 36, "expected UUID format, got %s", id)
}

func TestIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewMessageID(), NewMessageID())
	assert.NotEqual(t, NewContextID(), NewContextID())
	assert.NotEqual(t, NewSelectionID(), NewSelectionID())
}

func TestParseSessionID(t *testing.T) {
	id := NewSessionID()
	got, err := ParseSessionID(string(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseSessionID("not-a-uuid")
	assert.Error(t, err)
}

func TestDocumentIDForIsStable(t *testing.T) {
	a := DocumentIDFor("/papers/ml-basics.pdf")
	assert.Equal(t, a, DocumentIDFor("/papers/ml-basics.pdf"))
	assert.NotEqual(t, a, DocumentIDFor("/papers/other.pdf"))
	assert.Len(t, string(a), 36)
}
