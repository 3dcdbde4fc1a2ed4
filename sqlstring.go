package pgfe

import "strings"

// FragmentKind tags a Fragment's role within an SqlString.
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentPositional
	FragmentNamed
	FragmentQuoted
)

// Fragment is one unit of a preparsed SqlString: literal text, a positional
// parameter reference ($n), a named parameter reference (:name), or a
// dollar-quoted literal body.
type Fragment struct {
	Kind  FragmentKind
	Text  string // Text/Quoted body, verbatim
	Index int    // Positional: 1-based parameter index
	Name  string // Named: parameter name
}

// SqlString is an ordered list of Fragments plus a Composite "extra"
// dictionary of comment-derived key/value metadata (see sqlparser.go for the
// `/* $key$value$key$ */` convention that populates it).
type SqlString struct {
	fragments []Fragment
	extra     *Composite
}

// Parse tokenizes sql per the state machine documented in sqlparser.go and
// returns the first SqlString found, stopping at a top-level ';' or NUL. Use
// SqlVector to split an input buffer into several SqlStrings.
func Parse(sql string) (*SqlString, error) {
	s, _, err := parseOne(sql)
	return s, err
}

// Fragments returns the fragment list in order. The returned slice must not
// be mutated; use Append/ReplaceParameter to build new SqlStrings.
func (s *SqlString) Fragments() []Fragment { return s.fragments }

// Extra returns the comment-derived key/value metadata dictionary. Never
// nil; callers may freely mutate the returned Composite.
func (s *SqlString) Extra() *Composite {
	if s.extra == nil {
		s.extra = NewComposite()
	}
	return s.extra
}

// ParameterCount returns the number of distinct parameters (positional and
// named) referenced by the string, i.e. the highest positional index
// combined with any named parameters not already covered by a positional
// slot.
func (s *SqlString) ParameterCount() int {
	return len(s.parameterOrder())
}

// parameterOrder returns each distinct parameter reference in assignment
// order: first by ascending positional index, then named parameters in
// first-occurrence order, numbered starting after the highest positional
// index already present, matching to_query_string's numbering rule.
func (s *SqlString) parameterOrder() []Fragment {
	maxPositional := 0
	seenNamed := map[string]bool{}
	var named []Fragment
	for _, f := range s.fragments {
		switch f.Kind {
		case FragmentPositional:
			if f.Index > maxPositional {
				maxPositional = f.Index
			}
		case FragmentNamed:
			if !seenNamed[f.Name] {
				seenNamed[f.Name] = true
				named = append(named, f)
			}
		}
	}
	out := make([]Fragment, 0, maxPositional+len(named))
	for i := 1; i <= maxPositional; i++ {
		out = append(out, Fragment{Kind: FragmentPositional, Index: i})
	}
	out = append(out, named...)
	return out
}

// ParameterOrder returns each distinct parameter reference in the order
// ToQueryString assigns them "$n" numbers: ascending positional index first,
// then named parameters in first-occurrence order.
func (s *SqlString) ParameterOrder() []Fragment { return s.parameterOrder() }

// NamedParameterIndex returns the 1-based index that would be assigned to
// named parameter name by ToQueryString, or 0 if name does not occur.
func (s *SqlString) NamedParameterIndex(name string) int {
	for i, f := range s.parameterOrder() {
		if f.Kind == FragmentNamed && f.Name == name {
			return i + 1
		}
	}
	return 0
}

// Bound reports whether every positional/named parameter fragment has a
// value provided by the given binder; binder is called with each distinct
// parameter in assignment order. A nil binder means "treat every parameter
// as unbound", so Bound(nil) is true only for a parameter-free string.
func (s *SqlString) Bound(binder func(Fragment) (Data, bool)) bool {
	for _, f := range s.parameterOrder() {
		if binder == nil {
			return false
		}
		if _, ok := binder(f); !ok {
			return false
		}
	}
	return true
}

// Append concatenates other's fragments onto s, renumbering other's
// positional parameters so the combined string's positional indices remain
// a dense prefix, and merges other's extra dictionary into s's with
// last-wins semantics for duplicate keys.
func (s *SqlString) Append(other *SqlString) {
	offset := 0
	for _, f := range s.fragments {
		if f.Kind == FragmentPositional && f.Index > offset {
			offset = f.Index
		}
	}
	for _, f := range other.fragments {
		if f.Kind == FragmentPositional {
			f.Index += offset
		}
		s.fragments = append(s.fragments, f)
	}
	if other.extra != nil {
		s.Extra().Merge(other.extra, true)
	}
}

// ReplaceParameter substitutes every occurrence of Named(name) with
// replacement's fragments, unioning replacement's own named parameters into
// the caller. After this call s contains no Named(name) fragment unless
// replacement itself references name.
func (s *SqlString) ReplaceParameter(name string, replacement *SqlString) {
	var out []Fragment
	for _, f := range s.fragments {
		if f.Kind == FragmentNamed && f.Name == name {
			out = append(out, replacement.fragments...)
			continue
		}
		out = append(out, f)
	}
	s.fragments = out
	if replacement.extra != nil {
		s.Extra().Merge(replacement.extra, true)
	}
}

// ToQueryString renders the fragments as literal SQL text suitable for
// sending as a Parse message: positional parameters become "$n"; named
// parameters become "$n" too, with n assigned by first-occurrence order
// after the highest positional index already present.
func (s *SqlString) ToQueryString() string {
	var sb strings.Builder
	order := s.parameterOrder()
	namedIndex := map[string]int{}
	for i, f := range order {
		if f.Kind == FragmentNamed {
			namedIndex[f.Name] = i + 1
		}
	}
	for _, f := range s.fragments {
		switch f.Kind {
		case FragmentText:
			sb.WriteString(f.Text)
		case FragmentQuoted:
			sb.WriteString(f.Text)
		case FragmentPositional:
			sb.WriteByte('$')
			sb.WriteString(itoa(f.Index))
		case FragmentNamed:
			sb.WriteByte('$')
			sb.WriteString(itoa(namedIndex[f.Name]))
		}
	}
	return sb.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Clone returns an independent deep copy.
func (s *SqlString) Clone() *SqlString {
	cp := &SqlString{fragments: make([]Fragment, len(s.fragments))}
	copy(cp.fragments, s.fragments)
	if s.extra != nil {
		cp.extra = s.extra.Clone()
	}
	return cp
}
