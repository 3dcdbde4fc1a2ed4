package pgfe

import "testing"

func TestPreparedStatementBindValidatesCount(t *testing.T) {
	sql, err := Parse("SELECT $1::int + $2::int")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ps := &PreparedStatement{sql: sql}
	if ps.ParameterCount() != 2 {
		t.Fatalf("ParameterCount() = %d, want 2", ps.ParameterCount())
	}

	args, err := ps.Bind(NewTextData("2"), NewTextData("3"))
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(args) != 2 {
		t.Errorf("Bind returned %d args, want 2", len(args))
	}

	if _, err := ps.Bind(NewTextData("2")); err == nil {
		t.Errorf("expected error binding too few arguments")
	}
}

func TestPreparedStatementBindNamed(t *testing.T) {
	sql, err := Parse("SELECT :a + :b")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ps := &PreparedStatement{sql: sql}

	args, err := ps.BindNamed(map[string]Data{
		"a": NewTextData("1"),
		"b": NewTextData("2"),
	})
	if err != nil {
		t.Fatalf("BindNamed: %v", err)
	}
	if string(args[0].Bytes()) != "1" || string(args[1].Bytes()) != "2" {
		t.Errorf("BindNamed order wrong: %v", args)
	}

	if _, err := ps.BindNamed(map[string]Data{"a": NewTextData("1")}); err == nil {
		t.Errorf("expected error for missing named parameter")
	}
}

func TestPreparedStatementBindNamedMixedPositionalAndNamed(t *testing.T) {
	sql, err := Parse("SELECT $1, :name")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ps := &PreparedStatement{sql: sql}
	args, err := ps.BindNamed(map[string]Data{
		"1":    NewTextData("p1"),
		"name": NewTextData("pname"),
	})
	if err != nil {
		t.Fatalf("BindNamed: %v", err)
	}
	if string(args[0].Bytes()) != "p1" || string(args[1].Bytes()) != "pname" {
		t.Errorf("BindNamed = %v", args)
	}
}

func TestPreparedStatementResultFormatDefaultsToText(t *testing.T) {
	ps := &PreparedStatement{sql: &SqlString{}}
	if ps.ResultFormat() != FormatText {
		t.Errorf("ResultFormat() default = %v, want text", ps.ResultFormat())
	}
	ps.SetResultFormat(FormatBinary)
	if ps.ResultFormat() != FormatBinary {
		t.Errorf("ResultFormat() after SetResultFormat = %v, want binary", ps.ResultFormat())
	}
}
