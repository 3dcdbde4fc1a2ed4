package pgfe

import "testing"

func TestRowInfoFieldIndex(t *testing.T) {
	ri := NewRowInfo([]FieldInfo{
		{Name: "id", TypeOID: 23},
		{Name: "name", TypeOID: 25},
	})
	if ri.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", ri.Size())
	}
	if ri.FieldIndex("name") != 1 {
		t.Errorf("FieldIndex(name) = %d, want 1", ri.FieldIndex("name"))
	}
	if ri.FieldIndex("missing") != -1 {
		t.Errorf("FieldIndex(missing) = %d, want -1", ri.FieldIndex("missing"))
	}
}

func TestRowAccessors(t *testing.T) {
	ri := NewRowInfo([]FieldInfo{{Name: "one"}})
	values := NewComposite()
	values.Append("one", NewTextData("1"))
	row := NewRow(values, ri)

	if row.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", row.Size())
	}
	if string(row.Data(0).Bytes()) != "1" {
		t.Errorf("Data(0) = %q", row.Data(0).Bytes())
	}
	d, ok := row.DataByName("one")
	if !ok || string(d.Bytes()) != "1" {
		t.Errorf("DataByName(one) = %v, %v", d, ok)
	}
	if row.Name(0) != "one" {
		t.Errorf("Name(0) = %q", row.Name(0))
	}
}

func TestRowCloneDetachesBorrowedData(t *testing.T) {
	ri := NewRowInfo([]FieldInfo{{Name: "one"}})
	buf := []byte("borrowed")
	values := NewComposite()
	values.Append("one", borrowData(buf, FormatText))
	row := NewRow(values, ri)

	cloned := row.Clone()
	buf[0] = 'X'
	if string(cloned.Data(0).Bytes()) != "borrowed" {
		t.Errorf("clone shares storage with the borrowed buffer: %q", cloned.Data(0).Bytes())
	}
	if !cloned.Data(0).Owned() {
		t.Errorf("Clone() should own its Data values")
	}
}

func TestCompletionOperationName(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":        "SELECT",
		"INSERT 0 3":      "INSERT",
		"END":             "COMMIT",
		"CREATE TABLE AS": "SELECT",
		"SELECT INTO":     "SELECT",
		"DELETE 2":        "DELETE",
	}
	for tag, want := range cases {
		c := Completion{Tag: tag}
		if got := c.OperationName(); got != want {
			t.Errorf("OperationName(%q) = %q, want %q", tag, got, want)
		}
	}
}
