package pathmask

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		mask string
		name string
		want bool
	}{
		{"SOUND*", "soundtrack", true},
		{"sound*", "Sound", true},
		{"sound*", "Rus Sound", false},
		{"*sound*", "Rus Sound", true},
		{" translation* ", "Translations", true},
		{"Sound", "sound", true},
		{"Sound", "Soundtrack", false},
		{"s?und", "SOUND", true},
		{"s?und", "sund", false},
		{"*", "", true},
		{"*", "anything", true},
		{"", "", true},
		{"", "x", false},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"*.mka", "track.mka", true},
		{"??", "ab", true},
		{"??", "abc", false},
		{"[ab]", "a", false},
		{"[ab]", "[AB]", true},
		{`a\*`, `a\zzz`, true},
	}

	for _, tc := range cases {
		if got := Match(tc.mask, tc.name); got != tc.want {
			t.Errorf("Match(%q, %q) = %t, want %t", tc.mask, tc.name, got, tc.want)
		}
	}
}

func TestMatchWildcardsAreNotEscapable(t *testing.T) {
	// A literal '*' in the name is only matched through a wildcard.
	if !Match("a*", "a*") {
		t.Fatalf("expected wildcard to match literal star")
	}
	if Match("a?", "a") {
		t.Fatalf("'?' must consume exactly one character")
	}
}

func TestMatchNonASCII(t *testing.T) {
	cases := []struct {
		mask string
		name string
		want bool
	}{
		{"stra?e", "Straße", true},
		{"?", "ß", true},
		{"?", "ss", false},
		{"ÉMILE*", "émile", true},
		{"звук*", "Звуковая дорожка", true},
		{"κ", "K", false},
	}

	for _, tc := range cases {
		if got := Match(tc.mask, tc.name); got != tc.want {
			t.Errorf("Match(%q, %q) = %t, want %t", tc.mask, tc.name, got, tc.want)
		}
	}
}
