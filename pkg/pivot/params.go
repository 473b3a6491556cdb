package pivot

import "strconv"

// bindParamCount counts bind parameters in a query the way sqlite does:
// anonymous ? takes the index one past the largest assigned so far, ?NNN
// addresses index NNN directly, and named parameters (:name, @name, $name)
// share one index per distinct name. The count is the largest index in use.
// String literals, quoted identifiers and comments are skipped. The driver
// does not expose sqlite3_bind_parameter_count, so the template is scanned
// here.
func bindParamCount(query string) int {
	maxIdx := 0
	named := map[string]int{}

	for i := 0; i < len(query); i++ {
		switch c := query[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(query, i, c)
		case '[':
			for i++; i < len(query) && query[i] != ']'; i++ {
			}
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				for i += 2; i < len(query) && query[i] != '\n'; i++ {
				}
			}
		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				i += 2
				for i < len(query)-1 && !(query[i] == '*' && query[i+1] == '/') {
					i++
				}
				i++
			}
		case '?':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				if n, err := strconv.Atoi(query[i+1 : j]); err == nil && n > maxIdx {
					maxIdx = n
				}
			} else {
				maxIdx++
			}
			i = j - 1
		case ':', '@', '$':
			j := i + 1
			for j < len(query) && isParamNameChar(query[j]) {
				j++
			}
			if j > i+1 {
				name := query[i:j]
				if _, ok := named[name]; !ok {
					maxIdx++
					named[name] = maxIdx
				}
				i = j - 1
			}
		}
	}
	return maxIdx
}

// skipQuoted returns the index of the closing quote, honoring doubled-quote
// escapes inside the literal.
func skipQuoted(s string, start int, q byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i
	}
	return len(s)
}

func isParamNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '$'
}
