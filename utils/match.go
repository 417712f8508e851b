package utils

import "strings"

// CaseMode controls how Match compares literal text.
type CaseMode int

const (
	CaseSensitive CaseMode = iota
	CaseInsensitive
)

const notFound = -1

// Match checks a concrete value against a wildcard pattern.
//
//	Match("c.txt", "*.txt", CaseSensitive)      --> true
//	Match("c.txt", "*.jpg", CaseSensitive)      --> false
//	Match("a/b/c.txt", "a/b/*", CaseSensitive)  --> true
//	Match("c.txt", "*.???", CaseSensitive)      --> true
//	Match("c.txt", "*.????", CaseSensitive)     --> false
//
// '*' matches any run of characters including none, '?' matches exactly
// one. Matching is applied to the whole string, so a wildcard can span
// any delimiter the caller may have joined segments with.
func Match(value, pattern string, cs CaseMode) bool {
	wcs := splitOnTokens(pattern)
	anyChars := false
	textIdx := 0
	wcsIdx := 0
	var backtrack [][2]int

	// loop around a backtrack stack to handle complex '*' matching
	for {
		if len(backtrack) > 0 {
			top := backtrack[len(backtrack)-1]
			backtrack = backtrack[:len(backtrack)-1]
			wcsIdx = top[0]
			textIdx = top[1]
			anyChars = true
		}

		for wcsIdx < len(wcs) {
			tok := wcs[wcsIdx]
			if tok == "?" {
				textIdx++
				if textIdx > len(value) {
					break
				}
				anyChars = false
			} else if tok == "*" {
				anyChars = true
				if wcsIdx == len(wcs)-1 {
					textIdx = len(value)
				}
			} else {
				if anyChars {
					// locate the literal token anywhere ahead
					textIdx = indexOf(value, textIdx, tok, cs)
					if textIdx == notFound {
						break
					}
					if repeat := indexOf(value, textIdx+1, tok, cs); repeat >= 0 {
						backtrack = append(backtrack, [2]int{wcsIdx, repeat})
					}
				} else {
					if !regionMatches(value, textIdx, tok, cs) {
						break
					}
				}
				textIdx += len(tok)
				anyChars = false
			}
			wcsIdx++
		}

		if wcsIdx == len(wcs) && textIdx == len(value) {
			return true
		}
		if len(backtrack) == 0 {
			return false
		}
	}
}

// splitOnTokens splits a pattern on '?' and '*'. Consecutive '*' runs
// collapse into a single '*'.
func splitOnTokens(text string) []string {
	if !strings.ContainsAny(text, "?*") {
		return []string{text}
	}

	var list []string
	var buffer strings.Builder
	var prev rune
	for _, ch := range text {
		if ch == '?' || ch == '*' {
			if buffer.Len() != 0 {
				list = append(list, buffer.String())
				buffer.Reset()
			}
			if ch == '?' {
				list = append(list, "?")
			} else if prev != '*' {
				list = append(list, "*")
			}
		} else {
			buffer.WriteRune(ch)
		}
		prev = ch
	}
	if buffer.Len() != 0 {
		list = append(list, buffer.String())
	}
	return list
}

func indexOf(s string, from int, search string, cs CaseMode) int {
	if from < 0 {
		from = 0
	}
	if from > len(s) {
		return notFound
	}
	if cs == CaseInsensitive {
		idx := strings.Index(strings.ToLower(s[from:]), strings.ToLower(search))
		if idx == notFound {
			return notFound
		}
		return from + idx
	}
	idx := strings.Index(s[from:], search)
	if idx == notFound {
		return notFound
	}
	return from + idx
}

func regionMatches(s string, at int, search string, cs CaseMode) bool {
	if at < 0 || at+len(search) > len(s) {
		return false
	}
	region := s[at : at+len(search)]
	if cs == CaseInsensitive {
		return strings.EqualFold(region, search)
	}
	return region == search
}

// Difference returns the remainder of b once the common prefix with a is
// removed. Empty when the strings are equal. Mirrors the debugging helper
// used when recording audit match events.
func Difference(a, b string) string {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	if i == len(b) {
		return ""
	}
	return b[i:]
}
