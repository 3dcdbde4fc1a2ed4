package pgfe

// compositeField is one (name, Data?) pair of a Composite. A nil Data
// represents SQL NULL for that field.
type compositeField struct {
	name string
	data Data
}

// Composite is an ordered sequence of (name, Data?) pairs. Duplicate names
// are permitted; Find returns the first match at or after a given offset,
// supporting repeated scans for further matches. Element count is expected
// to fit in 16 bits, mirroring PostgreSQL's row-width limit.
type Composite struct {
	fields []compositeField
}

// NewComposite returns an empty Composite.
func NewComposite() *Composite {
	return &Composite{}
}

// Size returns the number of fields.
func (c *Composite) Size() int { return len(c.fields) }

// Append adds a (name, data) pair at the end, regardless of whether name
// already exists.
func (c *Composite) Append(name string, data Data) {
	if len(c.fields) >= 1<<16-1 {
		panic("pgfe: composite field count exceeds 16-bit row-width limit")
	}
	c.fields = append(c.fields, compositeField{name: name, data: data})
}

// Name returns the field name at index i.
func (c *Composite) Name(i int) string { return c.fields[i].name }

// Data returns the field value at index i (nil for SQL NULL).
func (c *Composite) Data(i int) Data { return c.fields[i].data }

// SetData replaces the value at index i.
func (c *Composite) SetData(i int, d Data) { c.fields[i].data = d }

// Find returns the index of the first field named name at index >= offset,
// or Size() if none. Find(k,0) <= Find(k,1) <= ... <= Size() holds for
// successive offsets, supporting repeated scans for duplicate names.
func (c *Composite) Find(name string, offset int) int {
	for i := offset; i < len(c.fields); i++ {
		if c.fields[i].name == name {
			return i
		}
	}
	return len(c.fields)
}

// HasField reports whether any field is named name.
func (c *Composite) HasField(name string) bool {
	return c.Find(name, 0) < len(c.fields)
}

// Get returns the value of the first field named name, and whether it was
// found at all (as distinct from found-but-NULL).
func (c *Composite) Get(name string) (Data, bool) {
	i := c.Find(name, 0)
	if i >= len(c.fields) {
		return nil, false
	}
	return c.fields[i].data, true
}

// Erase removes the field at index i, preserving the relative order of the
// remaining fields and reducing Size() by one.
func (c *Composite) Erase(i int) {
	c.fields = append(c.fields[:i], c.fields[i+1:]...)
}

// Clone returns a deep-ish copy: the field slice is independent, but Data
// values are shared (Data is immutable to callers except via Clone).
func (c *Composite) Clone() *Composite {
	cp := &Composite{fields: make([]compositeField, len(c.fields))}
	copy(cp.fields, c.fields)
	return cp
}

// Merge appends every field of other to c, optionally overwriting values of
// identically named fields instead of duplicating them when lastWins is
// true (used by SqlString extras, which keep last-wins semantics for
// duplicate keys; ordinary Composite rows keep duplicates by default).
func (c *Composite) Merge(other *Composite, lastWins bool) {
	for _, f := range other.fields {
		if lastWins {
			if i := c.Find(f.name, 0); i < len(c.fields) {
				c.fields[i].data = f.data
				continue
			}
		}
		c.Append(f.name, f.data)
	}
}
