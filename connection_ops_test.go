package pgfe

import (
	"bytes"
	"testing"

	"github.com/pgfe-go/pgfe/internal/wire"
)

func buildRowDescriptionPayload(t *testing.T, fields []FieldInfo) []byte {
	t.Helper()
	var buf bytes.Buffer
	var n [2]byte
	wire.PutUint16(n[:], uint16(len(fields)))
	buf.Write(n[:])
	for _, f := range fields {
		buf.Write(cString(f.Name))
		var tableOID, typeOID [4]byte
		wire.PutUint32(tableOID[:], f.TableOID)
		wire.PutUint32(typeOID[:], f.TypeOID)
		buf.Write(tableOID[:])
		var colNum [2]byte
		wire.PutInt16(colNum[:], f.TableColumnNumber)
		buf.Write(colNum[:])
		buf.Write(typeOID[:])
		var typeSize [2]byte
		wire.PutInt16(typeSize[:], f.TypeSize)
		buf.Write(typeSize[:])
		var typeMod [4]byte
		wire.PutInt32(typeMod[:], f.TypeModifier)
		buf.Write(typeMod[:])
		var formatCode [2]byte
		code := int16(0)
		if f.Format == FormatBinary {
			code = 1
		}
		wire.PutInt16(formatCode[:], code)
		buf.Write(formatCode[:])
	}
	return buf.Bytes()
}

func TestParseRowDescriptionRoundTrip(t *testing.T) {
	want := []FieldInfo{
		{Name: "id", TableOID: 16384, TableColumnNumber: 1, TypeOID: 23, TypeSize: 4, TypeModifier: -1, Format: FormatText},
		{Name: "name", TableOID: 16384, TableColumnNumber: 2, TypeOID: 25, TypeSize: -1, TypeModifier: -1, Format: FormatBinary},
	}
	payload := buildRowDescriptionPayload(t, want)
	got, err := parseRowDescription(payload)
	if err != nil {
		t.Fatalf("parseRowDescription: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fields, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseRowDescriptionTruncated(t *testing.T) {
	if _, err := parseRowDescription([]byte{0, 1}); err == nil {
		t.Errorf("expected error for truncated RowDescription")
	}
}

func TestParseDataRowNullAndText(t *testing.T) {
	ri := NewRowInfo([]FieldInfo{
		{Name: "a", Format: FormatText},
		{Name: "b", Format: FormatText},
	})
	var buf bytes.Buffer
	var n [2]byte
	wire.PutUint16(n[:], 2)
	buf.Write(n[:])

	var negLen [4]byte
	wire.PutInt32(negLen[:], -1)
	buf.Write(negLen[:])

	val := []byte("hello")
	var vl [4]byte
	wire.PutInt32(vl[:], int32(len(val)))
	buf.Write(vl[:])
	buf.Write(val)

	row, err := parseDataRow(buf.Bytes(), ri)
	if err != nil {
		t.Fatalf("parseDataRow: %v", err)
	}
	if row.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", row.Size())
	}
	if row.Data(0) != nil {
		t.Errorf("field 0 should be NULL, got %v", row.Data(0))
	}
	if string(row.Data(1).Bytes()) != "hello" {
		t.Errorf("field 1 = %q, want hello", row.Data(1).Bytes())
	}
}

func TestParseDataRowTruncatedLength(t *testing.T) {
	ri := NewRowInfo([]FieldInfo{{Name: "a"}})
	var buf bytes.Buffer
	var n [2]byte
	wire.PutUint16(n[:], 1)
	buf.Write(n[:])
	var vl [4]byte
	wire.PutInt32(vl[:], 10)
	buf.Write(vl[:])
	buf.Write([]byte("short"))
	if _, err := parseDataRow(buf.Bytes(), ri); err == nil {
		t.Errorf("expected error when declared field length exceeds remaining payload")
	}
}

func TestParseParameterDescription(t *testing.T) {
	var buf bytes.Buffer
	var n [2]byte
	wire.PutUint16(n[:], 2)
	buf.Write(n[:])
	var o1, o2 [4]byte
	wire.PutUint32(o1[:], 23)
	wire.PutUint32(o2[:], 25)
	buf.Write(o1[:])
	buf.Write(o2[:])

	oids, err := parseParameterDescription(buf.Bytes())
	if err != nil {
		t.Fatalf("parseParameterDescription: %v", err)
	}
	if len(oids) != 2 || oids[0] != 23 || oids[1] != 25 {
		t.Errorf("oids = %v", oids)
	}
}

func TestParseCommandTag(t *testing.T) {
	tag := parseCommandTag(cString("SELECT 1"))
	if tag != "SELECT 1" {
		t.Errorf("parseCommandTag() = %q", tag)
	}
}

func TestBuildParseMessageShape(t *testing.T) {
	payload := buildParse("myname", "SELECT $1", []uint32{23})
	name, rest, ok := splitCString(payload)
	if !ok || name != "myname" {
		t.Fatalf("name = %q, ok=%v", name, ok)
	}
	query, rest, ok := splitCString(rest)
	if !ok || query != "SELECT $1" {
		t.Fatalf("query = %q, ok=%v", query, ok)
	}
	if len(rest) != 2+4 {
		t.Fatalf("unexpected trailing length: %d", len(rest))
	}
	if n := wire.Uint16(rest[:2]); n != 1 {
		t.Errorf("param count = %d, want 1", n)
	}
	if oid := wire.Uint32(rest[2:6]); oid != 23 {
		t.Errorf("param oid = %d, want 23", oid)
	}
}

func TestBuildBindMessageShape(t *testing.T) {
	payload := buildBind("", "stmt1", []Data{NewTextData("5"), nil}, FormatBinary)
	portal, rest, ok := splitCString(payload)
	if !ok || portal != "" {
		t.Fatalf("portal = %q", portal)
	}
	stmt, rest, ok := splitCString(rest)
	if !ok || stmt != "stmt1" {
		t.Fatalf("stmt = %q", stmt)
	}
	npf := wire.Uint16(rest[:2])
	if npf != 2 {
		t.Fatalf("param format count = %d, want 2", npf)
	}
	rest = rest[2+int(npf)*2:]
	np := wire.Uint16(rest[:2])
	if np != 2 {
		t.Fatalf("param value count = %d, want 2", np)
	}
	rest = rest[2:]
	l0 := wire.Int32(rest[:4])
	if l0 != 1 {
		t.Fatalf("param 0 length = %d, want 1", l0)
	}
	if string(rest[4:5]) != "5" {
		t.Fatalf("param 0 value = %q", rest[4:5])
	}
	rest = rest[5:]
	l1 := wire.Int32(rest[:4])
	if l1 != -1 {
		t.Fatalf("param 1 (NULL) length = %d, want -1", l1)
	}
}

func TestBuildDescribeAndClose(t *testing.T) {
	d := buildDescribe('S', "stmt1")
	if d[0] != 'S' {
		t.Fatalf("kind byte = %q", d[0])
	}
	name, _, ok := splitCString(d[1:])
	if !ok || name != "stmt1" {
		t.Errorf("name = %q", name)
	}

	c := buildClose('P', "portal1")
	if c[0] != 'P' {
		t.Fatalf("kind byte = %q", c[0])
	}
}

func TestBuildExecute(t *testing.T) {
	payload := buildExecute("", 0)
	portal, rest, ok := splitCString(payload)
	if !ok || portal != "" {
		t.Fatalf("portal = %q", portal)
	}
	if wire.Int32(rest) != 0 {
		t.Errorf("maxRows = %d, want 0", wire.Int32(rest))
	}
}
