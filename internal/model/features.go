package model

// FeatureTable accumulates feature values for a batch of sources. Columns
// are registered additively as pipeline stages contribute them, so the
// final schema is explicit and ordered rather than an ad-hoc union of
// per-row keys. Dropping a source removes its whole row; there are no
// partial rows.
type FeatureTable struct {
	order []uint64
	rows  map[uint64]map[string]any

	colOrder []string
	colSeen  map[string]bool
}

// NewFeatureTable creates an empty table.
func NewFeatureTable() *FeatureTable {
	return &FeatureTable{
		rows:    make(map[uint64]map[string]any),
		colSeen: make(map[string]bool),
	}
}

// Add registers a source with an empty row. Adding an existing id is a
// no-op.
func (t *FeatureTable) Add(id uint64) {
	if _, ok := t.rows[id]; ok {
		return
	}
	t.order = append(t.order, id)
	t.rows[id] = make(map[string]any)
}

// Has reports whether the source is still present.
func (t *FeatureTable) Has(id uint64) bool {
	_, ok := t.rows[id]
	return ok
}

// Set records a scalar feature value for a source. Setting on a dropped or
// unknown source is a no-op.
func (t *FeatureTable) Set(id uint64, col string, v float64) {
	t.set(id, col, v)
}

// SetInt records an integer-valued column (identifiers, counts).
func (t *FeatureTable) SetInt(id uint64, col string, v int64) {
	t.set(id, col, v)
}

// SetString records a string-valued column.
func (t *FeatureTable) SetString(id uint64, col, v string) {
	t.set(id, col, v)
}

func (t *FeatureTable) set(id uint64, col string, v any) {
	row, ok := t.rows[id]
	if !ok {
		return
	}
	if !t.colSeen[col] {
		t.colSeen[col] = true
		t.colOrder = append(t.colOrder, col)
	}
	row[col] = v
}

// Drop removes a source and its entire row.
func (t *FeatureTable) Drop(id uint64) {
	if _, ok := t.rows[id]; !ok {
		return
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// IDs returns the surviving source ids in insertion order.
func (t *FeatureTable) IDs() []uint64 {
	out := make([]uint64, len(t.order))
	copy(out, t.order)
	return out
}

// Columns returns the column names in registration order.
func (t *FeatureTable) Columns() []string {
	out := make([]string, len(t.colOrder))
	copy(out, t.colOrder)
	return out
}

// Row returns the value map for a source, or nil if it was dropped.
func (t *FeatureTable) Row(id uint64) map[string]any {
	return t.rows[id]
}

// Len returns the number of surviving rows.
func (t *FeatureTable) Len() int {
	return len(t.order)
}
