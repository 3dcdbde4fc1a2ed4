package pgfe

import "testing"

func TestParseFragments(t *testing.T) {
	s, err := Parse(":a + :b")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	frags := s.Fragments()
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %d: %+v", len(frags), frags)
	}
	if frags[0].Kind != FragmentNamed || frags[0].Name != "a" {
		t.Errorf("frag0 = %+v, want Named(a)", frags[0])
	}
	if frags[1].Kind != FragmentText || frags[1].Text != " + " {
		t.Errorf("frag1 = %+v, want Text(\" + \")", frags[1])
	}
	if frags[2].Kind != FragmentNamed || frags[2].Name != "b" {
		t.Errorf("frag2 = %+v, want Named(b)", frags[2])
	}
	if got := s.ToQueryString(); got != "$1 + $2" {
		t.Errorf("ToQueryString() = %q, want %q", got, "$1 + $2")
	}
}

func TestParsePositional(t *testing.T) {
	s, err := Parse("SELECT $1::int + $2::int")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := s.ToQueryString(); got != "SELECT $1::int + $2::int" {
		t.Errorf("ToQueryString() = %q", got)
	}
	if s.ParameterCount() != 2 {
		t.Errorf("ParameterCount() = %d, want 2", s.ParameterCount())
	}
}

func TestParseExtraComment(t *testing.T) {
	s, err := Parse("/* $id$q1$id$ */ SELECT 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v, ok := s.Extra().Get("id")
	if !ok {
		t.Fatalf("extra missing key id")
	}
	if string(v.Bytes()) != "q1" {
		t.Errorf("extra[id] = %q, want %q", v.Bytes(), "q1")
	}
	hasText := false
	for _, f := range s.Fragments() {
		if f.Kind == FragmentText && len(stripSpace(f.Text)) > 0 {
			hasText = true
		}
	}
	if !hasText {
		t.Errorf("expected a non-empty text fragment, got %+v", s.Fragments())
	}
}

func TestParseLineCommentID(t *testing.T) {
	vec, err := SqlVector("-- Id: plus\nSELECT :a + :b;\n-- Id: minus\nSELECT :a - :b")
	if err != nil {
		t.Fatalf("SqlVector: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(vec))
	}
	for i, want := range []string{"plus", "minus"} {
		v, ok := vec[i].Extra().Get("Id")
		if !ok {
			t.Fatalf("statement %d missing Id extra", i)
		}
		if string(v.Bytes()) != want {
			t.Errorf("statement %d Id = %q, want %q", i, v.Bytes(), want)
		}
	}
}

func stripSpace(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' && s[i] != '\n' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func TestParseDollarQuoted(t *testing.T) {
	s, err := Parse("SELECT $tag$it's a literal$tag$")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	found := false
	for _, f := range s.Fragments() {
		if f.Kind == FragmentQuoted {
			found = true
			if f.Text != "$tag$it's a literal$tag$" {
				t.Errorf("quoted fragment = %q", f.Text)
			}
		}
	}
	if !found {
		t.Fatalf("expected a Quoted fragment, got %+v", s.Fragments())
	}
}

func TestParseSingleQuoteEscape(t *testing.T) {
	s, err := Parse("SELECT 'it''s fine'")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := s.ToQueryString()
	want := "SELECT 'it''s fine'"
	if got != want {
		t.Errorf("ToQueryString() = %q, want %q", got, want)
	}
}

func TestParseStopsAtTopLevelSemicolon(t *testing.T) {
	vec, err := SqlVector("SELECT 1; SELECT 2")
	if err != nil {
		t.Fatalf("SqlVector: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(vec))
	}
	if vec[0].ToQueryString() != "SELECT 1" {
		t.Errorf("vec[0] = %q", vec[0].ToQueryString())
	}
	if vec[1].ToQueryString() != " SELECT 2" {
		t.Errorf("vec[1] = %q", vec[1].ToQueryString())
	}
}

func TestAppendRenumbersPositionalAndMergesExtra(t *testing.T) {
	a, err := Parse("SELECT $1")
	if err != nil {
		t.Fatalf("Parse a: %v", err)
	}
	b, err := Parse(", $1")
	if err != nil {
		t.Fatalf("Parse b: %v", err)
	}
	a.Extra().Append("id", NewTextData("a"))
	b.Extra().Append("id", NewTextData("b"))
	a.Append(b)
	if got := a.ToQueryString(); got != "SELECT $1, $2" {
		t.Errorf("Append result = %q", got)
	}
	v, _ := a.Extra().Get("id")
	if string(v.Bytes()) != "b" {
		t.Errorf("merged extra[id] = %q, want last-wins %q", v.Bytes(), "b")
	}
}

func TestReplaceParameterRemovesNamedUnlessReintroduced(t *testing.T) {
	s, err := Parse("SELECT :x")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	replacement, err := Parse("42")
	if err != nil {
		t.Fatalf("Parse replacement: %v", err)
	}
	s.ReplaceParameter("x", replacement)
	for _, f := range s.Fragments() {
		if f.Kind == FragmentNamed && f.Name == "x" {
			t.Fatalf("Named(x) fragment survived replacement: %+v", s.Fragments())
		}
	}
	if got := s.ToQueryString(); got != "SELECT 42" {
		t.Errorf("ToQueryString() = %q", got)
	}
}

func TestReplaceParameterKeepsNamedWhenReplacementReferencesIt(t *testing.T) {
	s, _ := Parse("SELECT :x")
	replacement, _ := Parse(":x + 1")
	s.ReplaceParameter("x", replacement)
	found := false
	for _, f := range s.Fragments() {
		if f.Kind == FragmentNamed && f.Name == "x" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Named(x) to survive since replacement references it: %+v", s.Fragments())
	}
}

func TestBound(t *testing.T) {
	s, _ := Parse("SELECT $1, :name")
	bound := map[string]bool{}
	binder := func(f Fragment) (Data, bool) {
		key := f.Name
		if f.Kind == FragmentPositional {
			key = itoa(f.Index)
		}
		ok := bound[key]
		return NewTextData("x"), ok
	}
	if s.Bound(binder) {
		t.Errorf("expected unbound string to report Bound() == false")
	}
	bound["1"] = true
	bound["name"] = true
	if !s.Bound(binder) {
		t.Errorf("expected fully-bound string to report Bound() == true")
	}
}

func TestParseRoundTripModuloWhitespace(t *testing.T) {
	cases := []string{
		"SELECT $1, $2",
		"SELECT :a, :b",
		"SELECT 1 -- comment\n",
		"SELECT 'quoted ''text'''",
	}
	for _, sql := range cases {
		s, err := Parse(sql)
		if err != nil {
			t.Fatalf("Parse(%q): %v", sql, err)
		}
		rendered := s.ToQueryString()
		s2, err := Parse(rendered)
		if err != nil {
			t.Fatalf("re-Parse(%q): %v", rendered, err)
		}
		if s2.ToQueryString() != rendered {
			t.Errorf("round-trip mismatch: %q -> %q -> %q", sql, rendered, s2.ToQueryString())
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s, _ := Parse("SELECT $1")
	cp := s.Clone()
	cp.Extra().Append("k", NewTextData("v"))
	if s.Extra().HasField("k") {
		t.Errorf("mutating clone's extra leaked back to original")
	}
}
