package main

import (
	"fmt"
	"log"

	"trackprobe/internal/analyzer"
	"trackprobe/internal/config"
	"trackprobe/internal/mediainfo"
	"trackprobe/internal/metadata"
	"trackprobe/internal/store"
)

// settings re-reads the encoding options whenever a probe asks for them.
type settings struct {
	logger *log.Logger
	// masksOverride, when set, replaces the configured masks.
	masksOverride *string
}

func (s settings) load() config.EncodingOptions {
	opts, err := config.LoadEncodingOptions()
	if err != nil {
		s.logger.Printf("load encoding options: %v", err)
	}
	return opts
}

func (s settings) masks() string {
	if s.masksOverride != nil {
		return *s.masksOverride
	}
	return s.load().ExternalAudioPathMasks
}

func (s settings) probeOptions() mediainfo.Options {
	return mediainfo.Options{EnableRemoteContentProbe: s.load().EnableRemoteContentProbe}
}

// newInvoker wires the analyzer chosen at startup to a merger backed by st.
func newInvoker(st *store.Store, s settings) (*mediainfo.Invoker, error) {
	opts, err := config.LoadEncodingOptions()
	if err != nil {
		return nil, err
	}
	a, err := analyzer.New(opts.Analyzer, opts.FFProbePath, s.logger)
	if err != nil {
		return nil, err
	}
	merger, err := metadata.NewMerger(st, st)
	if err != nil {
		return nil, err
	}
	invoker, err := mediainfo.NewInvoker(a, merger, s.masks, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create invoker: %w", err)
	}
	return invoker, nil
}
