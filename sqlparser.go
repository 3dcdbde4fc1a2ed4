package pgfe

import "strings"

// parserState names the states of the SqlString tokenizer's state machine,
// transcribed from the fragment table: Text, PositionalNum, NamedIdent,
// Dollar(tag), SingleQuoted, LineComment, BlockComment.
type parserState int

const (
	stateText parserState = iota
	statePositionalNum
	stateNamedIdent
	stateDollarQuoted
	stateSingleQuoted
	stateLineComment
	stateBlockComment
)

func isNamedIdentChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '/'
}

func isIdentStartChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '_'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parseOne tokenizes the first SQL statement out of sql, stopping at a
// top-level ';' or NUL (or end of input), and returns the number of bytes
// consumed so SqlVector can resume scanning after it.
func parseOne(sql string) (*SqlString, int, error) {
	s := &SqlString{}
	state := stateText
	var textBuf strings.Builder
	var identBuf strings.Builder
	var dollarTag string
	blockDepth := 0
	var blockBuf strings.Builder
	var lineBuf strings.Builder

	flushText := func() {
		if textBuf.Len() > 0 {
			s.fragments = append(s.fragments, Fragment{Kind: FragmentText, Text: textBuf.String()})
			textBuf.Reset()
		}
	}

	i := 0
	n := len(sql)
	for i < n {
		c := sql[i]

		switch state {
		case stateText:
			switch {
			case c == 0:
				i++
				goto done
			case c == ';':
				i++
				goto done
			case c == '$' && i+1 < n && isDigit(sql[i+1]):
				flushText()
				state = statePositionalNum
				identBuf.Reset()
				i++
				continue
			case c == '$' && i+1 < n && (isIdentStartChar(sql[i+1]) || sql[i+1] == '$'):
				if tag, rest, ok := tryDollarQuoteOpen(sql[i:]); ok {
					flushText()
					dollarTag = tag
					state = stateDollarQuoted
					blockBuf.Reset()
					i += len(sql[i:]) - len(rest)
					continue
				}
				textBuf.WriteByte(c)
				i++
			case c == ':' && i+1 < n && sql[i+1] == ':':
				// "::" is a type cast, never a named parameter.
				textBuf.WriteString("::")
				i += 2
			case c == ':' && i+1 < n && (isIdentStartChar(sql[i+1])):
				flushText()
				state = stateNamedIdent
				identBuf.Reset()
				i++
				continue
			case c == '\'':
				textBuf.WriteByte(c)
				state = stateSingleQuoted
				i++
			case c == '-' && i+1 < n && sql[i+1] == '-':
				textBuf.WriteString("--")
				lineBuf.Reset()
				state = stateLineComment
				i += 2
			case c == '/' && i+1 < n && sql[i+1] == '*':
				textBuf.WriteString("/*")
				blockDepth = 1
				blockBuf.Reset()
				state = stateBlockComment
				i += 2
			default:
				textBuf.WriteByte(c)
				i++
			}

		case statePositionalNum:
			if isDigit(c) {
				identBuf.WriteByte(c)
				i++
				continue
			}
			idx := atoiSafe(identBuf.String())
			s.fragments = append(s.fragments, Fragment{Kind: FragmentPositional, Index: idx})
			state = stateText
			// reprocess c in Text state

		case stateNamedIdent:
			if isNamedIdentChar(c) {
				identBuf.WriteByte(c)
				i++
				continue
			}
			s.fragments = append(s.fragments, Fragment{Kind: FragmentNamed, Name: identBuf.String()})
			state = stateText
			// reprocess c in Text state

		case stateDollarQuoted:
			closer := "$" + dollarTag + "$"
			if strings.HasPrefix(sql[i:], closer) {
				s.fragments = append(s.fragments, Fragment{Kind: FragmentQuoted, Text: "$" + dollarTag + "$" + blockBuf.String() + closer})
				i += len(closer)
				state = stateText
				continue
			}
			if i >= n {
				return nil, i, newClientError(ErrInvalidSqlString, "unterminated dollar-quoted literal")
			}
			blockBuf.WriteByte(c)
			i++

		case stateSingleQuoted:
			textBuf.WriteByte(c)
			i++
			if c == '\'' {
				if i < n && sql[i] == '\'' {
					textBuf.WriteByte('\'')
					i++
					continue
				}
				state = stateText
			}

		case stateLineComment:
			if c == '\n' {
				textBuf.WriteByte(c)
				extractLineCommentID(lineBuf.String(), s.Extra())
				state = stateText
				i++
				continue
			}
			textBuf.WriteByte(c)
			lineBuf.WriteByte(c)
			i++

		case stateBlockComment:
			if c == '/' && i+1 < n && sql[i+1] == '*' {
				blockDepth++
				textBuf.WriteString("/*")
				blockBuf.WriteString("/*")
				i += 2
				continue
			}
			if c == '*' && i+1 < n && sql[i+1] == '/' {
				blockDepth--
				textBuf.WriteString("*/")
				blockBuf.WriteString("*/")
				i += 2
				if blockDepth == 0 {
					extractCommentExtras(blockBuf.String(), s.Extra())
					state = stateText
				}
				continue
			}
			textBuf.WriteByte(c)
			blockBuf.WriteByte(c)
			i++
		}
	}

done:
	switch state {
	case statePositionalNum:
		idx := atoiSafe(identBuf.String())
		s.fragments = append(s.fragments, Fragment{Kind: FragmentPositional, Index: idx})
	case stateNamedIdent:
		s.fragments = append(s.fragments, Fragment{Kind: FragmentNamed, Name: identBuf.String()})
	case stateDollarQuoted:
		return nil, i, newClientError(ErrInvalidSqlString, "unterminated dollar-quoted literal")
	case stateLineComment:
		extractLineCommentID(lineBuf.String(), s.Extra())
	}
	flushText()
	return s, i, nil
}

// extractLineCommentID recognizes the "-- Id: <name>" line-comment
// convention used by query catalogs: the first word after "Id:" becomes an
// "Id" entry in the extra dictionary, so a loader scanning a file of
// ';'-separated statements can address each by name.
func extractLineCommentID(body string, extra *Composite) {
	body = strings.TrimSpace(body)
	rest, ok := strings.CutPrefix(body, "Id:")
	if !ok {
		return
	}
	if id := strings.TrimSpace(rest); id != "" {
		extra.Append("Id", NewTextData(id))
	}
}

// tryDollarQuoteOpen checks whether s begins with a dollar-quote opening
// tag "$tag$" (tag may be empty: "$$"), returning the tag and the remainder
// of s starting at the opening delimiter's end.
func tryDollarQuoteOpen(s string) (tag string, rest string, ok bool) {
	if len(s) == 0 || s[0] != '$' {
		return "", s, false
	}
	j := 1
	for j < len(s) && s[j] != '$' && isNamedIdentChar(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return "", s, false
	}
	return s[1:j], s[j+1:], true
}

// extractCommentExtras scans a block comment body for the
// "$key$value$key$" metadata shape and appends any matches to extra,
// keeping all occurrences (append order; duplicate keys are both kept,
// matching SqlString.Append's own last-wins merge only applying across
// separate SqlStrings).
func extractCommentExtras(body string, extra *Composite) {
	i := 0
	for i < len(body) {
		if body[i] != '$' {
			i++
			continue
		}
		key, rest1, ok := tryDollarQuoteOpen(body[i:])
		if !ok || key == "" {
			i++
			continue
		}
		closer := "$" + key + "$"
		idx := strings.Index(rest1, closer)
		if idx < 0 {
			i++
			continue
		}
		value := rest1[:idx]
		extra.Append(key, NewTextData(value))
		i += len(body[i:]) - len(rest1) + idx + len(closer)
	}
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// SqlVector splits an input buffer into successive SqlStrings, one per
// top-level ';'-terminated (or NUL/EOF-terminated) statement. A ';' inside
// a quoted literal or comment never splits, and a multi-statement
// SqlString cannot be constructed: each element of the vector is itself
// single-statement.
func SqlVector(sql string) ([]*SqlString, error) {
	var out []*SqlString
	for len(sql) > 0 {
		s, consumed, err := parseOne(sql)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if consumed <= 0 {
			break
		}
		sql = sql[consumed:]
	}
	return out, nil
}
