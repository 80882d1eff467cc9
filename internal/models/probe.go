package models

import "time"

// TicksPerSecond is the number of RunTimeTicks in one second.
const TicksPerSecond = 10_000_000

// MusicBrainz provider id keys propagated from probed tags.
const (
	ProviderMusicBrainzAlbumArtist  = "MusicBrainzAlbumArtist"
	ProviderMusicBrainzArtist       = "MusicBrainzArtist"
	ProviderMusicBrainzAlbum        = "MusicBrainzAlbum"
	ProviderMusicBrainzReleaseGroup = "MusicBrainzReleaseGroup"
	ProviderMusicBrainzTrack        = "MusicBrainzTrack"
)

// MusicBrainzProviders lists the provider keys copied on every probe.
var MusicBrainzProviders = []string{
	ProviderMusicBrainzAlbumArtist,
	ProviderMusicBrainzArtist,
	ProviderMusicBrainzAlbum,
	ProviderMusicBrainzReleaseGroup,
	ProviderMusicBrainzTrack,
}

// PersonType is the credit a person holds on a track.
type PersonType string

const (
	PersonComposer  PersonType = "Composer"
	PersonConductor PersonType = "Conductor"
	PersonLyricist  PersonType = "Lyricist"
	PersonArranger  PersonType = "Arranger"
	PersonEngineer  PersonType = "Engineer"
	PersonMixer     PersonType = "Mixer"
	PersonProducer  PersonType = "Producer"
	PersonRemixer   PersonType = "Remixer"
	PersonWriter    PersonType = "Writer"
)

// Person is a credited contributor.
type Person struct {
	Name string     `json:"name"`
	Type PersonType `json:"type"`
	Role string     `json:"role,omitempty"`
}

// StreamType classifies a media stream.
type StreamType string

const (
	StreamAudio      StreamType = "Audio"
	StreamVideo      StreamType = "Video"
	StreamSubtitle   StreamType = "Subtitle"
	StreamData       StreamType = "Data"
	StreamAttachment StreamType = "Attachment"
	StreamEmbedded   StreamType = "EmbeddedImage"
)

// MediaStream describes one stream found by the analyzer.
type MediaStream struct {
	Index         int        `json:"index"`
	Type          StreamType `json:"type"`
	Codec         string     `json:"codec,omitempty"`
	Language      string     `json:"language,omitempty"`
	Title         string     `json:"title,omitempty"`
	Channels      int        `json:"channels,omitempty"`
	ChannelLayout string     `json:"channel_layout,omitempty"`
	SampleRate    int        `json:"sample_rate,omitempty"`
	BitRate       int64      `json:"bit_rate,omitempty"`
	IsDefault     bool       `json:"is_default"`
	IsExternal    bool       `json:"is_external"`
	Path          string     `json:"path,omitempty"`
}

// ProbeResult is the analyzer output for one probe invocation.
// It is read-only once produced.
type ProbeResult struct {
	Container    string
	Bitrate      *int
	RunTimeTicks *int64
	Size         *int64

	Name              string
	Album             string
	Artists           []string
	AlbumArtists      []string
	IndexNumber       *int
	ParentIndexNumber *int
	ProductionYear    *int
	PremiereDate      *time.Time
	Genres            []string
	Studios           []string
	People            []Person
	ProviderIDs       map[string]string

	MediaStreams []MediaStream
}

// ProviderID returns the probed id stored under key.
func (r *ProbeResult) ProviderID(key string) string {
	return r.ProviderIDs[key]
}
