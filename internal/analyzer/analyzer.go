// Package analyzer obtains structural and tag metadata for audio files.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"trackprobe/internal/models"
)

// ErrAnalyzerFailure is wrapped by every error caused by a failed or
// malformed analysis.
var ErrAnalyzerFailure = errors.New("media analysis failed")

// MediaType selects what kind of media the analyzer should expect.
type MediaType string

const (
	MediaTypeAudio MediaType = "Audio"
	MediaTypeVideo MediaType = "Video"
)

// Source identifies the media to analyze.
type Source struct {
	Path     string
	Protocol models.Protocol
}

// Request is a single analysis request.
type Request struct {
	MediaType MediaType
	Source    Source
	// PlayableStreamFileNames lists sidecar files whose streams are
	// reported alongside the primary source.
	PlayableStreamFileNames []string
}

// Analyzer inspects a media source.
type Analyzer interface {
	GetMediaInfo(ctx context.Context, req Request) (*models.ProbeResult, error)
}

// Kind names an analyzer implementation.
const (
	KindFFProbe = "ffprobe"
	KindNative  = "native"
)

// New returns the analyzer registered under kind. ffprobePath is only used
// by the ffprobe analyzer; an empty value keeps the binary from $PATH.
func New(kind, ffprobePath string, logger *log.Logger) (Analyzer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindFFProbe:
		return NewFFProbe(ffprobePath, logger), nil
	case KindNative:
		return NewNative(logger), nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", kind)
	}
}

// playableExtensions are the sidecar extensions worth handing to an
// analyzer. Lyrics, NFO and text files sharing the stem are left out.
var playableExtensions = map[string]struct{}{
	".aac": {}, ".ac3": {}, ".aif": {}, ".aiff": {}, ".ape": {},
	".dts": {}, ".eac3": {}, ".flac": {}, ".m4a": {}, ".m4b": {},
	".mka": {}, ".mkv": {}, ".mp2": {}, ".mp3": {}, ".mp4": {},
	".mpc": {}, ".oga": {}, ".ogg": {}, ".opus": {}, ".thd": {},
	".wav": {}, ".webm": {}, ".wma": {}, ".wv": {},
}

// playableFiles keeps the files with a known audio or container extension.
func playableFiles(files []string, logger *log.Logger) []string {
	var kept []string
	for _, file := range files {
		if _, ok := playableExtensions[strings.ToLower(filepath.Ext(file))]; !ok {
			logger.Printf("skipping sidecar %s: not an audio file", file)
			continue
		}
		kept = append(kept, file)
	}
	return kept
}

func failure(path string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrAnalyzerFailure, path, err)
}
