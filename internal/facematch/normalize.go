package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizePersonName normalizes a name for comparison (lowercase, no diacritics, spaces for dashes).
func NormalizePersonName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// ResolveStudent finds a roster entry by student ID or by a diacritic- and
// case-insensitive display name. Ambiguous names resolve to nothing.
func ResolveStudent(query string, students []attendance.EnrolledStudent) (attendance.EnrolledStudent, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return attendance.EnrolledStudent{}, false
	}
	for _, s := range students {
		if s.StudentID == query {
			return s, true
		}
	}

	want := NormalizePersonName(query)
	var (
		found attendance.EnrolledStudent
		n     int
	)
	for _, s := range students {
		if NormalizePersonName(s.DisplayName) == want {
			found = s
			n++
		}
	}
	return found, n == 1
}
