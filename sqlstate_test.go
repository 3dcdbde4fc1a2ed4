package pgfe

import "testing"

func TestSQLStateRoundTrip(t *testing.T) {
	cases := []string{"00000", "42601", "08006", "ZZZZZ", "0A000"}
	for _, s := range cases {
		v, err := ParseSQLState(s)
		if err != nil {
			t.Fatalf("ParseSQLState(%q): %v", s, err)
		}
		if got := v.String(); got != s {
			t.Errorf("round trip %q -> %d -> %q", s, int32(v), got)
		}
	}
}

func TestSQLStateRejectsWrongLength(t *testing.T) {
	if _, err := ParseSQLState("4260"); err == nil {
		t.Errorf("expected error for short sqlstate")
	}
	if _, err := ParseSQLState("426011"); err == nil {
		t.Errorf("expected error for long sqlstate")
	}
}

func TestSQLStateRejectsInvalidCharacter(t *testing.T) {
	if _, err := ParseSQLState("4260a"); err == nil {
		t.Errorf("expected error for lowercase character")
	}
}

func TestSQLStateName(t *testing.T) {
	v, err := ParseSQLState("42601")
	if err != nil {
		t.Fatalf("ParseSQLState: %v", err)
	}
	if v.Name() != "syntax_error" {
		t.Errorf("Name() = %q, want syntax_error", v.Name())
	}
}

func TestSQLStateSuccessful(t *testing.T) {
	v, _ := ParseSQLState("00000")
	if !v.Successful() {
		t.Errorf("00000 should report Successful() == true")
	}
	v2, _ := ParseSQLState("42601")
	if v2.Successful() {
		t.Errorf("42601 should report Successful() == false")
	}
}

func TestSQLStateClass(t *testing.T) {
	v, _ := ParseSQLState("42601")
	if v.Class() != "42" {
		t.Errorf("Class() = %q, want 42", v.Class())
	}
}
