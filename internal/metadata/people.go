package metadata

import (
	"strings"

	"golang.org/x/text/cases"

	"trackprobe/internal/models"
)

// sameName compares two names the way people and genres are keyed:
// trimmed and case-folded.
func sameName(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

// AddPerson reconciles person into people. A person with the same name
// (case-insensitive) takes the new type and role; anyone else is appended.
// Blank names are ignored.
func AddPerson(people []models.Person, person models.Person) []models.Person {
	person.Name = strings.TrimSpace(person.Name)
	if person.Name == "" {
		return people
	}

	for i := range people {
		if sameName(people[i].Name, person.Name) {
			people[i].Type = person.Type
			people[i].Role = person.Role
			return people
		}
	}
	return append(people, person)
}

// AddGenre appends genre unless an equal genre (case-insensitive) is
// already present. Blank genres are ignored.
func AddGenre(genres []string, genre string) []string {
	genre = strings.TrimSpace(genre)
	if genre == "" {
		return genres
	}
	for _, existing := range genres {
		if sameName(existing, genre) {
			return genres
		}
	}
	return append(genres, genre)
}
