package roster

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Search returns the waiting students whose name contains query, compared
// case-insensitively with diacritics stripped from both sides ("Hô" matches
// "ho"). Read-only; an empty query matches every waiting student.
func (s *Store) Search(query string) []Student {
	q := foldName(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Student
	for _, st := range s.students {
		if st.Seated {
			continue
		}
		if strings.Contains(foldName(st.Name), q) {
			out = append(out, copyStudent(st))
		}
	}
	return out
}

// foldName lowercases and removes combining marks. The transform chain is
// built per call; chained transformers carry internal buffers and are not
// safe for concurrent reuse.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
