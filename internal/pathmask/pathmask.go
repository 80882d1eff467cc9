// Package pathmask matches directory names against simple glob masks.
//
// A mask understands two wildcards: '*' matches any run of characters
// (including none) and '?' matches exactly one character. There is no
// escape syntax and no character classes, so a literal '*' or '?' in a
// name can only be matched by a wildcard. Matching is case-insensitive.
package pathmask

import (
	"strings"
	"unicode"
)

// Match reports whether name satisfies mask. The mask is trimmed of
// surrounding whitespace first; name is a single path segment.
func Match(mask, name string) bool {
	return match([]rune(strings.TrimSpace(mask)), []rune(name))
}

func match(pattern, subject []rune) bool {
	p, s := 0, 0
	star, mark := -1, 0

	for s < len(subject) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || sameRune(pattern[p], subject[s])):
			p++
			s++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = s
			p++
		case star >= 0:
			// Let the last '*' swallow one more character and retry.
			p = star + 1
			mark++
			s = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// sameRune compares runes under simple case folding, which never maps one
// rune to several, so '?' always stands for exactly one character.
func sameRune(a, b rune) bool {
	if a == b {
		return true
	}
	for r := unicode.SimpleFold(a); r != a; r = unicode.SimpleFold(r) {
		if r == b {
			return true
		}
	}
	return false
}
