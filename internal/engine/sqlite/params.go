package sqlite

// countParams returns the highest parameter index used by query, following
// SQLite's numbering: "?" takes the next index, "?NNN" uses NNN, and each
// distinct ":name", "@name" or "$name" takes the next index on first use.
// Literals, quoted identifiers and comments are skipped.
func countParams(query string) int {
	var (
		highest int
		named   = map[string]int{}
	)
	next := func() int {
		highest++
		return highest
	}

	for i := 0; i < len(query); i++ {
		switch c := query[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(query, i, c)
		case '[':
			i = skipQuoted(query, i, ']')
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				for i < len(query) && query[i] != '\n' {
					i++
				}
			}
		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				i += 2
				for i+1 < len(query) && !(query[i] == '*' && query[i+1] == '/') {
					i++
				}
				i++
			}
		case '?':
			j := i + 1
			n := 0
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				n = n*10 + int(query[j]-'0')
				j++
			}
			if j == i+1 {
				next()
			} else if n > highest {
				highest = n
			}
			i = j - 1
		case ':', '@', '$':
			j := i + 1
			for j < len(query) && isIdentByte(query[j]) {
				j++
			}
			if j > i+1 {
				name := query[i:j]
				if _, seen := named[name]; !seen {
					named[name] = next()
				}
			}
			i = j - 1
		}
	}
	return highest
}

// skipQuoted returns the index of the byte closing the quote opened at
// start. A doubled closing quote is an escape.
func skipQuoted(query string, start int, closing byte) int {
	for i := start + 1; i < len(query); i++ {
		if query[i] != closing {
			continue
		}
		if closing != ']' && i+1 < len(query) && query[i+1] == closing {
			i++
			continue
		}
		return i
	}
	return len(query)
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}
