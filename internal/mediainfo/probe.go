// Package mediainfo runs the probe cycle for a track: resolve what to
// analyze, collect sidecar files, call the analyzer and merge the result.
package mediainfo

import (
	"context"
	"errors"
	"log"
	"time"

	"trackprobe/internal/analyzer"
	"trackprobe/internal/models"
	"trackprobe/internal/sidecar"
)

// Options tune a single probe.
type Options struct {
	// EnableRemoteContentProbe allows probing the target of a shortcut.
	EnableRemoteContentProbe bool
}

// Merger applies a probe result to a track.
type Merger interface {
	Merge(ctx context.Context, track *models.Track, result *models.ProbeResult) error
}

// MaskSource returns the current external audio path mask setting. It is
// called once per probe so configuration changes apply immediately.
type MaskSource func() string

// Invoker probes tracks.
type Invoker struct {
	analyzer analyzer.Analyzer
	merger   Merger
	masks    MaskSource
	logger   *log.Logger

	resolveProtocol func(path string) models.Protocol
	locate          func(primaryPath, maskConfig string) ([]string, error)
	now             func() time.Time
}

// NewInvoker wires an Invoker. masks may be nil, which disables sidecar
// discovery.
func NewInvoker(a analyzer.Analyzer, m Merger, masks MaskSource, logger *log.Logger) (*Invoker, error) {
	if a == nil || m == nil {
		return nil, errors.New("invoker requires an analyzer and a merger")
	}
	if masks == nil {
		masks = func() string { return "" }
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Invoker{
		analyzer:        a,
		merger:          m,
		masks:           masks,
		logger:          logger,
		resolveProtocol: ResolveProtocol,
		locate:          sidecar.Locate,
		now:             time.Now,
	}, nil
}

// Probe analyzes track and merges the result into it.
//
// A shortcut is left untouched unless opts allows remote probing; in that
// case its target is analyzed instead of the shortcut file. Sidecars are
// always looked up next to track.Path. The context is checked before work
// starts and again once the analyzer returns; the merge itself runs to
// completion. The caller persists the track afterwards.
func (p *Invoker) Probe(ctx context.Context, track *models.Track, opts Options) (models.UpdateType, error) {
	if err := ctx.Err(); err != nil {
		return models.UpdateNone, err
	}

	if track.IsShortcut && !opts.EnableRemoteContentProbe {
		p.logger.Printf("skipping probe of shortcut %s: remote probing disabled", track.Path)
		return models.UpdateMetadataImport, nil
	}

	path := track.Path
	protocol := track.Protocol()
	if track.IsShortcut {
		path = track.ShortcutPath
		protocol = p.resolveProtocol(path)
	}

	sidecars, err := p.locate(track.Path, p.masks())
	if err != nil {
		return models.UpdateNone, err
	}

	result, err := p.analyzer.GetMediaInfo(ctx, analyzer.Request{
		MediaType:               analyzer.MediaTypeAudio,
		Source:                  analyzer.Source{Path: path, Protocol: protocol},
		PlayableStreamFileNames: sidecars,
	})
	if err != nil {
		return models.UpdateNone, err
	}

	if err := ctx.Err(); err != nil {
		return models.UpdateNone, err
	}

	if err := p.merger.Merge(context.WithoutCancel(ctx), track, result); err != nil {
		return models.UpdateNone, err
	}
	track.DateProbed = p.now().UTC()

	if len(sidecars) > 0 {
		p.logger.Printf("probed %s with %d sidecar files", track.Path, len(sidecars))
	}
	return models.UpdateMetadataImport, nil
}
