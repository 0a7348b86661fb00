package parser

import "github.com/midi-sniffer/backend/internal/models"

// Index maps message keys to resolved controls. It is built once by BuildIndex
// and never mutated afterwards, so concurrent readers need no locking.
type Index struct {
	entries   map[models.MessageKey]*models.ResolvedMapping
	order     []models.MessageKey
	conflicts []models.Conflict
	paired    map[models.ControlType]bool
}

// Resolve returns the control for key. Unmapped keys are a normal outcome.
func (ix *Index) Resolve(key models.MessageKey) (*models.ResolvedMapping, bool) {
	if ix == nil {
		return nil, false
	}
	m, ok := ix.entries[key]
	return m, ok
}

// Len returns the number of keys.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Keys returns all keys in insertion order.
func (ix *Index) Keys() []models.MessageKey {
	if ix == nil {
		return nil
	}
	out := make([]models.MessageKey, len(ix.order))
	copy(out, ix.order)
	return out
}

// Conflicts returns the collisions resolved while building the index.
func (ix *Index) Conflicts() []models.Conflict {
	if ix == nil {
		return nil
	}
	out := make([]models.Conflict, len(ix.conflicts))
	copy(out, ix.conflicts)
	return out
}

// IsHiRes reports whether m is a control whose CC frames arrive as MSB/LSB pairs.
func (ix *Index) IsHiRes(m *models.ResolvedMapping) bool {
	if ix == nil || m == nil {
		return false
	}
	return ix.paired[m.ControlType]
}
