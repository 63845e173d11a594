package storage

import (
	"strings"
)

// MatchPattern reports whether key matches a Redis glob pattern:
//
//	*        any sequence of bytes, including none
//	?        exactly one byte
//	[abc]    one byte from the set; [^abc] negates, [a-z] is a range
//	\x       the literal byte x
//
// Matching is byte-wise and case sensitive, as in Redis.
func MatchPattern(key, pattern string) bool {
	if !strings.ContainsAny(pattern, "?[\\") {
		return matchPatternSimple(key, pattern)
	}
	return matchGlob(key, pattern)
}

// matchPatternSimple handles patterns whose only metacharacter is '*'
func matchPatternSimple(key, pattern string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return key == pattern
	}
	if pattern == "*" {
		return true
	}

	// Single wildcard: prefix, suffix or prefix+suffix match
	if strings.LastIndexByte(pattern, '*') == star {
		prefix, suffix := pattern[:star], pattern[star+1:]
		return len(key) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(key, prefix) &&
			strings.HasSuffix(key, suffix)
	}

	return matchGlob(key, pattern)
}

// matchGlob is an iterative glob matcher that backtracks to the most
// recent '*' on mismatch.
func matchGlob(key, pattern string) bool {
	p, k := 0, 0
	starP, starK := -1, 0

	for k < len(key) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				// Collapse consecutive stars
				for p < len(pattern) && pattern[p] == '*' {
					p++
				}
				if p == len(pattern) {
					return true
				}
				starP, starK = p, k
				continue
			case '?':
				p++
				k++
				continue
			case '[':
				if next, ok := matchClass(key[k], pattern, p); ok {
					p = next
					k++
					continue
				}
			case '\\':
				if p+1 < len(pattern) {
					if pattern[p+1] == key[k] {
						p += 2
						k++
						continue
					}
				} else if key[k] == '\\' {
					p++
					k++
					continue
				}
			default:
				if pattern[p] == key[k] {
					p++
					k++
					continue
				}
			}
		}

		if starP < 0 {
			return false
		}
		starK++
		p, k = starP, starK
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the bracket expression starting at
// pattern[start] == '['. It returns the index just past the closing ']'.
// An unterminated class extends to the end of the pattern.
func matchClass(c byte, pattern string, start int) (int, bool) {
	i := start + 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern):
			i++
			if pattern[i] == c {
				matched = true
			}
			i++
		case i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']':
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			i += 3
		default:
			if pattern[i] == c {
				matched = true
			}
			i++
		}
	}
	if i < len(pattern) {
		i++ // closing ']'
	}

	if negate {
		matched = !matched
	}
	return i, matched
}
