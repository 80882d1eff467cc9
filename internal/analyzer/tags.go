package analyzer

import (
	"strconv"
	"strings"
	"time"

	"trackprobe/internal/models"
)

// nameDelimiters separate multiple names packed into one tag value.
const nameDelimiters = "/|;\\"

// splitWhitelist holds names that contain a delimiter but must stay whole.
var splitWhitelist = []string{"AC/DC"}

var personTags = []struct {
	key  string
	kind models.PersonType
}{
	{"composer", models.PersonComposer},
	{"conductor", models.PersonConductor},
	{"lyricist", models.PersonLyricist},
	{"arranger", models.PersonArranger},
	{"engineer", models.PersonEngineer},
	{"mixer", models.PersonMixer},
	{"producer", models.PersonProducer},
	{"remixer", models.PersonRemixer},
	{"writer", models.PersonWriter},
}

var providerTags = map[string]string{
	"musicbrainzalbumartistid":  models.ProviderMusicBrainzAlbumArtist,
	"musicbrainzartistid":       models.ProviderMusicBrainzArtist,
	"musicbrainzalbumid":        models.ProviderMusicBrainzAlbum,
	"musicbrainzreleasegroupid": models.ProviderMusicBrainzReleaseGroup,
	"musicbrainzreleasetrackid": models.ProviderMusicBrainzTrack,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006-01",
}

// tagSet is a tag bundle keyed by normalised tag name.
type tagSet map[string]string

func newTagSet(raw map[string]string) tagSet {
	tags := make(tagSet, len(raw))
	for key, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		norm := normalizeKey(key)
		if _, exists := tags[norm]; !exists {
			tags[norm] = value
		}
	}
	return tags
}

// normalizeKey folds "MusicBrainz Album Id", "musicbrainz_albumid" and
// "MUSICBRAINZ-ALBUMID" onto the same key.
func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		switch r {
		case ' ', '_', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t tagSet) get(keys ...string) string {
	for _, key := range keys {
		if value, ok := t[key]; ok {
			return value
		}
	}
	return ""
}

// applyTags fills the tag-derived fields of result.
func applyTags(result *models.ProbeResult, raw map[string]string) {
	tags := newTagSet(raw)

	result.Name = tags.get("title")
	result.Album = tags.get("album")
	result.Artists = splitNames(tags.get("artist", "artists"))
	result.AlbumArtists = splitNames(tags.get("albumartist", "albumartists"))
	if len(result.AlbumArtists) == 0 && len(result.Artists) > 0 {
		result.AlbumArtists = append([]string(nil), result.Artists...)
	}

	result.IndexNumber = parseNumberPair(tags.get("track", "tracknumber"))
	result.ParentIndexNumber = parseNumberPair(tags.get("disc", "discnumber"))

	for _, key := range []string{"originaldate", "date", "releasedate"} {
		if date := parseDate(tags.get(key)); date != nil {
			result.PremiereDate = date
			break
		}
	}
	result.ProductionYear = parseYear(tags.get("year", "date", "originaldate"))

	result.Genres = distinct(splitNames(tags.get("genre")))

	var studios []string
	for _, key := range []string{"organization", "publisher", "label"} {
		studios = append(studios, splitNames(tags.get(key))...)
	}
	result.Studios = distinct(studios)

	for _, entry := range personTags {
		for _, name := range splitNames(tags.get(entry.key)) {
			result.People = append(result.People, models.Person{Name: name, Type: entry.kind})
		}
	}

	for key, provider := range providerTags {
		if id := tags.get(key); id != "" {
			if result.ProviderIDs == nil {
				result.ProviderIDs = make(map[string]string)
			}
			result.ProviderIDs[provider] = id
		}
	}
}

// splitNames breaks a multi-name tag value apart, keeping whitelisted names
// such as "AC/DC" intact.
func splitNames(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	for i, name := range splitWhitelist {
		value = strings.ReplaceAll(value, name, placeholder(i))
	}

	parts := strings.FieldsFunc(value, func(r rune) bool {
		return strings.ContainsRune(nameDelimiters, r)
	})

	names := make([]string, 0, len(parts))
	for _, part := range parts {
		for i, name := range splitWhitelist {
			part = strings.ReplaceAll(part, placeholder(i), name)
		}
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func placeholder(i int) string {
	return "\x00" + strconv.Itoa(i) + "\x00"
}

func distinct(values []string) []string {
	var out []string
outer:
	for _, value := range values {
		for _, seen := range out {
			if strings.EqualFold(seen, value) {
				continue outer
			}
		}
		out = append(out, value)
	}
	return out
}

// parseNumberPair reads "N" or "N/M" and returns N.
func parseNumberPair(value string) *int {
	value = strings.TrimSpace(value)
	if idx := strings.Index(value, "/"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if len(value) <= 4 {
		return nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			utc := parsed.UTC()
			return &utc
		}
	}
	return nil
}

func parseYear(value string) *int {
	value = strings.TrimSpace(value)
	if len(value) < 4 {
		return nil
	}
	year, err := strconv.Atoi(value[:4])
	if err != nil || year <= 0 {
		return nil
	}
	return &year
}
