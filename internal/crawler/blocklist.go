package crawler

import (
	"regexp"
	"strings"
)

// Blocklist decides which URLs may not be persisted. Entries are treated as
// unanchored regular expressions; an entry that fails to compile falls back
// to plain substring matching. Blocked pages are still fetched and traversed
// for links, they just never produce an artifact.
type Blocklist struct {
	patterns []*regexp.Regexp
	literals []string
}

// NewBlocklist compiles the given entries. Invalid patterns are kept as
// literal substrings rather than rejected.
func NewBlocklist(entries []string) *Blocklist {
	bl := &Blocklist{}
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		re, err := regexp.Compile(entry)
		if err != nil {
			bl.literals = append(bl.literals, entry)
			continue
		}
		bl.patterns = append(bl.patterns, re)
	}
	return bl
}

// Blocked reports whether any entry matches the URL.
func (b *Blocklist) Blocked(rawURL string) bool {
	if b == nil {
		return false
	}
	for _, re := range b.patterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	for _, lit := range b.literals {
		if strings.Contains(rawURL, lit) {
			return true
		}
	}
	return false
}

// Empty reports whether the blocklist has no entries.
func (b *Blocklist) Empty() bool {
	return b == nil || (len(b.patterns) == 0 && len(b.literals) == 0)
}
