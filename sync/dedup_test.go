// ABOUTME: Tests for batch deduplication
// ABOUTME: Covers newest-wins selection, order preservation and idempotence
package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/crmsync/models"
)

func msgWithIndex(key string, index float64) *models.ChangeMessage {
	return &models.ChangeMessage{
		User: models.Record{"id": key, "indexed_at": index},
	}
}

func TestDeduplicateKeepsNewest(t *testing.T) {
	older := msgWithIndex("u1", 3)
	newer := msgWithIndex("u1", 7)

	out := Deduplicate([]*models.ChangeMessage{older, newer})
	require.Len(t, out, 1)
	assert.Same(t, newer, out[0])

	// Arrival order must not matter.
	out = Deduplicate([]*models.ChangeMessage{newer, older})
	require.Len(t, out, 1)
	assert.Same(t, newer, out[0])
}

func TestDeduplicatePreservesKeyOrder(t *testing.T) {
	a1 := msgWithIndex("a", 1)
	b1 := msgWithIndex("b", 1)
	a2 := msgWithIndex("a", 2)

	out := Deduplicate([]*models.ChangeMessage{a1, b1, a2})
	require.Len(t, out, 2)
	assert.Same(t, a2, out[0])
	assert.Same(t, b1, out[1])
}

func TestDeduplicateIdempotent(t *testing.T) {
	batch := []*models.ChangeMessage{
		msgWithIndex("a", 1),
		msgWithIndex("b", 2),
		msgWithIndex("a", 3),
	}
	once := Deduplicate(batch)
	twice := Deduplicate(once)
	assert.Equal(t, once, twice)
}

func TestDeduplicatePassesThroughKeylessMessages(t *testing.T) {
	keyless1 := &models.ChangeMessage{User: models.Record{}}
	keyless2 := &models.ChangeMessage{User: models.Record{}}

	out := Deduplicate([]*models.ChangeMessage{keyless1, keyless2})
	assert.Len(t, out, 2)
}

func TestDeduplicateDoesNotModifyMessages(t *testing.T) {
	older := msgWithIndex("u1", 3)
	newer := msgWithIndex("u1", 7)
	Deduplicate([]*models.ChangeMessage{older, newer})

	assert.Equal(t, float64(3), older.Index())
	assert.Equal(t, float64(7), newer.Index())
}
