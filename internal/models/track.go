package models

import (
	"path/filepath"
	"time"
)

// Protocol describes how a media path is reached.
type Protocol string

const (
	ProtocolFile Protocol = "File"
	ProtocolHTTP Protocol = "Http"
	ProtocolRTMP Protocol = "Rtmp"
	ProtocolRTSP Protocol = "Rtsp"
	ProtocolRTP  Protocol = "Rtp"
	ProtocolUDP  Protocol = "Udp"
	ProtocolFTP  Protocol = "Ftp"
)

// MetadataField tags a field that curation can lock against automated refresh.
type MetadataField string

const (
	FieldCast    MetadataField = "Cast"
	FieldGenres  MetadataField = "Genres"
	FieldStudios MetadataField = "Studios"
)

// UpdateType reports what a refresh step changed on an item.
type UpdateType int

const (
	UpdateNone UpdateType = iota
	UpdateMetadataImport
)

func (u UpdateType) String() string {
	switch u {
	case UpdateMetadataImport:
		return "MetadataImport"
	default:
		return "None"
	}
}

// Track is the persisted record of a single audio item.
type Track struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	PathProtocol *Protocol `json:"path_protocol,omitempty"`
	IsShortcut   bool      `json:"is_shortcut"`
	ShortcutPath string    `json:"shortcut_path,omitempty"`

	Name              string            `json:"name"`
	Album             string            `json:"album,omitempty"`
	Artists           []string          `json:"artists,omitempty"`
	AlbumArtists      []string          `json:"album_artists,omitempty"`
	IndexNumber       *int              `json:"index_number,omitempty"`
	ParentIndexNumber *int              `json:"parent_index_number,omitempty"`
	ProductionYear    *int              `json:"production_year,omitempty"`
	PremiereDate      *time.Time        `json:"premiere_date,omitempty"`
	Genres            []string          `json:"genres,omitempty"`
	Studios           []string          `json:"studios,omitempty"`
	ProviderIDs       map[string]string `json:"provider_ids,omitempty"`

	Container    string `json:"container,omitempty"`
	TotalBitrate *int   `json:"total_bitrate,omitempty"`
	RunTimeTicks *int64 `json:"run_time_ticks,omitempty"`
	Size         *int64 `json:"size,omitempty"`

	LockedFields   []MetadataField `json:"locked_fields,omitempty"`
	SupportsPeople bool            `json:"supports_people"`

	// FileSize and DateModified mirror the file on disk at the last scan.
	FileSize     int64     `json:"file_size"`
	DateModified time.Time `json:"date_modified"`
	DateProbed   time.Time `json:"date_probed,omitempty"`
}

// ContainingFolderPath returns the directory holding the track's file.
func (t *Track) ContainingFolderPath() string {
	return filepath.Dir(t.Path)
}

// Protocol returns the stored path protocol, defaulting to File.
func (t *Track) Protocol() Protocol {
	if t.PathProtocol == nil || *t.PathProtocol == "" {
		return ProtocolFile
	}
	return *t.PathProtocol
}

// IsLocked reports whether field is protected from probe updates.
func (t *Track) IsLocked(field MetadataField) bool {
	for _, locked := range t.LockedFields {
		if locked == field {
			return true
		}
	}
	return false
}

// SetProviderID stores id under key. An empty id removes the key.
func (t *Track) SetProviderID(key, id string) {
	if id == "" {
		delete(t.ProviderIDs, key)
		return
	}
	if t.ProviderIDs == nil {
		t.ProviderIDs = make(map[string]string)
	}
	t.ProviderIDs[key] = id
}

// ProviderID returns the id stored under key.
func (t *Track) ProviderID(key string) string {
	return t.ProviderIDs[key]
}

// RunTime converts RunTimeTicks (100ns units) to a duration.
func (t *Track) RunTime() time.Duration {
	if t.RunTimeTicks == nil {
		return 0
	}
	return time.Duration(*t.RunTimeTicks) * 100
}
