package pgfe

// FieldInfo is the per-field metadata PostgreSQL reports in a RowDescription
// message.
type FieldInfo struct {
	Name              string
	TableOID          uint32
	TableColumnNumber int16
	TypeOID           uint32
	TypeSize          int16
	TypeModifier      int32
	Format            Format
}

// RowInfo is the field-shape metadata for a query result: one FieldInfo per
// column, in wire order. It lives as long as the PreparedStatement or
// one-off result that produced it.
type RowInfo struct {
	fields []FieldInfo
}

// NewRowInfo wraps a slice of FieldInfo (RowDescription order) as a RowInfo.
func NewRowInfo(fields []FieldInfo) *RowInfo {
	return &RowInfo{fields: fields}
}

// Size returns the number of fields.
func (ri *RowInfo) Size() int { return len(ri.fields) }

// Field returns the metadata for field i.
func (ri *RowInfo) Field(i int) FieldInfo { return ri.fields[i] }

// FieldIndex returns the index of the first field named name, or -1.
func (ri *RowInfo) FieldIndex(name string) int {
	for i, f := range ri.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Row is a Composite of field values bound to the RowInfo that describes
// them. Data within a Row is, by default, borrowed from the protocol read
// buffer that delivered it; callers that need it to outlive the next
// wait_response call must Clone the Data they keep.
type Row struct {
	info *Composite
	ri   *RowInfo
}

// NewRow pairs a Composite of values with the RowInfo describing them. The
// Composite's field count must equal the RowInfo's.
func NewRow(values *Composite, ri *RowInfo) *Row {
	return &Row{info: values, ri: ri}
}

// RowInfo returns the field-shape metadata for this row.
func (r *Row) RowInfo() *RowInfo { return r.ri }

// Size returns the number of fields.
func (r *Row) Size() int { return r.info.Size() }

// Data returns the value of field i (nil for SQL NULL).
func (r *Row) Data(i int) Data { return r.info.Data(i) }

// DataByName returns the value of the first field named name.
func (r *Row) DataByName(name string) (Data, bool) { return r.info.Get(name) }

// Name returns the field name at index i.
func (r *Row) Name(i int) string { return r.info.Name(i) }

// Clone returns a Row whose Data values are all owned copies, safe to
// retain past the next response-processing call.
func (r *Row) Clone() *Row {
	cp := NewComposite()
	for i := 0; i < r.info.Size(); i++ {
		d := r.info.Data(i)
		if d != nil {
			d = d.Clone()
		}
		cp.Append(r.info.Name(i), d)
	}
	return &Row{info: cp, ri: r.ri}
}

// Completion summarizes a finished command, e.g. "SELECT 1" or "INSERT 0 3".
type Completion struct {
	Tag string
}

// OperationName returns the leading verb of the completion tag, normalizing
// a couple of PostgreSQL tag quirks: a bare "END" completes as "COMMIT",
// and "CREATE TABLE AS"/"SELECT INTO" completions are reported under their
// executed verb ("SELECT") rather than the DDL-looking tag text.
func (c Completion) OperationName() string {
	tag := c.Tag
	switch {
	case tag == "END":
		return "COMMIT"
	case hasPrefixWord(tag, "CREATE", "TABLE", "AS"), hasPrefixWord(tag, "SELECT", "INTO"):
		return "SELECT"
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ' ' {
			return tag[:i]
		}
	}
	return tag
}

func hasPrefixWord(tag string, words ...string) bool {
	rest := tag
	for _, w := range words {
		if len(rest) < len(w) || rest[:len(w)] != w {
			return false
		}
		rest = rest[len(w):]
		if len(rest) > 0 && rest[0] == ' ' {
			rest = rest[1:]
		} else if len(rest) > 0 {
			return false
		}
	}
	return true
}
