// Package metadata merges analyzer results into persisted track records.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"trackprobe/internal/models"
)

// PeopleUpdater replaces the credited people of a track in the
// library-wide people registry.
type PeopleUpdater interface {
	UpdatePeople(ctx context.Context, track *models.Track, people []models.Person) error
}

// StreamSaver persists the stream list of a track.
type StreamSaver interface {
	SaveMediaStreams(ctx context.Context, trackID string, streams []models.MediaStream) error
}

// Rule decides whether a probed value may replace the stored one.
type Rule int

const (
	// Overwrite always replaces the stored value, even with an empty one.
	Overwrite Rule = iota
	// OverwriteIfNonEmpty keeps the stored value when the probe found nothing.
	OverwriteIfNonEmpty
	// SkipIfLocked replaces the stored value unless the field is locked.
	SkipIfLocked
)

func (r Rule) String() string {
	switch r {
	case Overwrite:
		return "overwrite"
	case OverwriteIfNonEmpty:
		return "overwrite-if-nonempty"
	case SkipIfLocked:
		return "skip-if-locked"
	default:
		return fmt.Sprintf("Rule(%d)", int(r))
	}
}

type applyFunc func(ctx context.Context, m *Merger, t *models.Track, r *models.ProbeResult) error

// fieldRule binds one merged field to its rule. Rules are evaluated in
// table order.
type fieldRule struct {
	name string
	rule Rule
	// lock is consulted by SkipIfLocked.
	lock models.MetadataField
	// empty is consulted by OverwriteIfNonEmpty.
	empty func(r *models.ProbeResult) bool
	// guard, when set, must hold for the rule to run at all.
	guard func(t *models.Track) bool
	apply applyFunc
}

func (f fieldRule) applies(t *models.Track, r *models.ProbeResult) bool {
	if f.guard != nil && !f.guard(t) {
		return false
	}
	switch f.rule {
	case OverwriteIfNonEmpty:
		return f.empty == nil || !f.empty(r)
	case SkipIfLocked:
		return !t.IsLocked(f.lock)
	default:
		return true
	}
}

func set(fn func(t *models.Track, r *models.ProbeResult)) applyFunc {
	return func(_ context.Context, _ *Merger, t *models.Track, r *models.ProbeResult) error {
		fn(t, r)
		return nil
	}
}

var fieldRules = []fieldRule{
	{name: "container", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.Container = r.Container })},
	{name: "total_bitrate", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.TotalBitrate = r.Bitrate })},
	{name: "run_time_ticks", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.RunTimeTicks = r.RunTimeTicks })},
	{name: "size", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.Size = r.Size })},
	{
		name:  "name",
		rule:  OverwriteIfNonEmpty,
		empty: func(r *models.ProbeResult) bool { return r.Name == "" },
		apply: set(func(t *models.Track, r *models.ProbeResult) { t.Name = r.Name }),
	},
	{
		name:  "people",
		rule:  SkipIfLocked,
		lock:  models.FieldCast,
		guard: func(t *models.Track) bool { return t.SupportsPeople },
		apply: mergePeople,
	},
	{name: "album", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.Album = r.Album })},
	{name: "artists", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.Artists = cloneStrings(r.Artists) })},
	{name: "album_artists", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.AlbumArtists = cloneStrings(r.AlbumArtists) })},
	{name: "index_number", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.IndexNumber = r.IndexNumber })},
	{name: "parent_index_number", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.ParentIndexNumber = r.ParentIndexNumber })},
	{name: "premiere_date", rule: Overwrite, apply: set(func(t *models.Track, r *models.ProbeResult) { t.PremiereDate = r.PremiereDate })},
	{name: "production_year", rule: Overwrite, apply: set(mergeProductionYear)},
	{name: "genres", rule: SkipIfLocked, lock: models.FieldGenres, apply: set(mergeGenres)},
	{name: "studios", rule: SkipIfLocked, lock: models.FieldStudios, apply: set(func(t *models.Track, r *models.ProbeResult) { t.Studios = cloneStrings(r.Studios) })},
	{name: "provider_ids", rule: Overwrite, apply: set(mergeProviderIDs)},
	{name: "media_streams", rule: Overwrite, apply: saveStreams},
}

// Merger applies probe results onto tracks.
type Merger struct {
	people  PeopleUpdater
	streams StreamSaver
}

// NewMerger creates a Merger that reports people and streams to the given
// collaborators.
func NewMerger(people PeopleUpdater, streams StreamSaver) (*Merger, error) {
	if people == nil || streams == nil {
		return nil, errors.New("merger requires a people updater and a stream saver")
	}
	return &Merger{people: people, streams: streams}, nil
}

// Merge copies result into track field by field. Field assignments made
// before a failing collaborator call are kept; the first failure is
// returned and ends the merge.
func (m *Merger) Merge(ctx context.Context, track *models.Track, result *models.ProbeResult) error {
	if track == nil || result == nil {
		return errors.New("merge requires a track and a probe result")
	}
	for _, field := range fieldRules {
		if !field.applies(track, result) {
			continue
		}
		if err := field.apply(ctx, m, track, result); err != nil {
			return fmt.Errorf("merge %s: %w", field.name, err)
		}
	}
	return nil
}

func mergePeople(ctx context.Context, m *Merger, t *models.Track, r *models.ProbeResult) error {
	var people []models.Person
	for _, person := range r.People {
		people = AddPerson(people, models.Person{
			Name: person.Name,
			Type: person.Type,
			Role: person.Role,
		})
	}
	return m.people.UpdatePeople(ctx, t, people)
}

func mergeProductionYear(t *models.Track, r *models.ProbeResult) {
	t.ProductionYear = r.ProductionYear
	if t.PremiereDate != nil && t.ProductionYear == nil {
		year := t.PremiereDate.Local().Year()
		t.ProductionYear = &year
	}
}

func mergeGenres(t *models.Track, r *models.ProbeResult) {
	t.Genres = nil
	for _, genre := range r.Genres {
		t.Genres = AddGenre(t.Genres, genre)
	}
}

func mergeProviderIDs(t *models.Track, r *models.ProbeResult) {
	for _, key := range models.MusicBrainzProviders {
		t.SetProviderID(key, r.ProviderID(key))
	}
}

func saveStreams(ctx context.Context, m *Merger, t *models.Track, r *models.ProbeResult) error {
	return m.streams.SaveMediaStreams(ctx, t.ID, r.MediaStreams)
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
