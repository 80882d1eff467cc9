package library

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trackprobe/internal/mediainfo"
	"trackprobe/internal/models"
	"trackprobe/internal/store"
)

type fakeProber struct {
	mu      sync.Mutex
	calls   map[string]int
	options []mediainfo.Options
	fail    map[string]error
}

func newFakeProber() *fakeProber {
	return &fakeProber{calls: make(map[string]int), fail: make(map[string]error)}
}

func (f *fakeProber) Probe(ctx context.Context, track *models.Track, opts mediainfo.Options) (models.UpdateType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[filepath.Base(track.Path)]++
	f.options = append(f.options, opts)
	if err := f.fail[filepath.Base(track.Path)]; err != nil {
		return models.UpdateNone, err
	}
	track.Name = "probed " + filepath.Base(track.Path)
	track.DateProbed = time.Now().UTC()
	return models.UpdateMetadataImport, nil
}

func (f *fakeProber) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func newTestLibrary(t *testing.T, root string, extensions []string, prober Prober) (*Library, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "trackprobe.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	lib, err := NewLibrary(Config{
		Root:        root,
		Extensions:  extensions,
		Debounce:    10 * time.Millisecond,
		Concurrency: 2,
		ProbeOptions: func() mediainfo.Options {
			return mediainfo.Options{EnableRemoteContentProbe: true}
		},
	}, st, prober, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	t.Cleanup(func() {
		if err := lib.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		_ = st.Close()
	})
	return lib, st
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func trackCount(t *testing.T, lib *Library) int {
	t.Helper()
	tracks, err := lib.ListTracks(context.Background())
	if err != nil {
		t.Fatalf("ListTracks: %v", err)
	}
	return len(tracks)
}

func TestLibraryWatchesAndRefreshes(t *testing.T) {
	root := t.TempDir()
	initial := filepath.Join(root, "initial.wav")
	writeFile(t, initial, "one")

	lib, _ := newTestLibrary(t, root, []string{".wav"}, newFakeProber())

	waitFor(t, func() bool { return trackCount(t, lib) == 1 }, "initial scan")

	second := filepath.Join(root, "second.wav")
	writeFile(t, second, "two")
	waitFor(t, func() bool { return trackCount(t, lib) == 2 }, "detect second file")

	subdir := filepath.Join(root, "nested")
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	writeFile(t, filepath.Join(subdir, "third.wav"), "three")
	waitFor(t, func() bool { return trackCount(t, lib) == 3 }, "detect nested file")

	renamePath := filepath.Join(root, "initial-renamed.wav")
	if err := os.Rename(initial, renamePath); err != nil {
		t.Fatalf("rename file: %v", err)
	}
	waitFor(t, func() bool {
		_, err := lib.store.GetTrackByPath(context.Background(), renamePath)
		return err == nil
	}, "detect rename")

	if err := os.Remove(second); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	waitFor(t, func() bool { return trackCount(t, lib) == 2 }, "reflect removal")
}

func TestLibraryProbesNewAndChangedFilesOnly(t *testing.T) {
	root := t.TempDir()
	song := filepath.Join(root, "song.flac")
	writeFile(t, song, "audio")
	writeFile(t, filepath.Join(root, "notes.txt"), "text")

	prober := newFakeProber()
	lib, _ := newTestLibrary(t, root, []string{".flac"}, prober)

	if prober.count("song.flac") != 1 {
		t.Fatalf("expected initial probe, got %d", prober.count("song.flac"))
	}
	if prober.count("notes.txt") != 0 {
		t.Fatalf("expected non-audio file to be ignored")
	}

	track, err := lib.Track(context.Background(), TrackID(song))
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if track.Name != "probed song.flac" || track.FileSize != 5 {
		t.Fatalf("unexpected stored track %+v", track)
	}
	if !prober.options[0].EnableRemoteContentProbe {
		t.Fatalf("expected probe options to be forwarded")
	}

	if err := lib.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if prober.count("song.flac") != 1 {
		t.Fatalf("expected unchanged file to be skipped, got %d probes", prober.count("song.flac"))
	}

	writeFile(t, song, "longer audio")
	if err := lib.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if prober.count("song.flac") < 2 {
		t.Fatalf("expected changed file to be probed again")
	}
}

func TestLibraryKeepsTracksWhenProbeFails(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.mp3"), "junk")
	writeFile(t, filepath.Join(root, "good.mp3"), "fine")

	prober := newFakeProber()
	prober.fail["bad.mp3"] = errors.New("corrupt")
	lib, _ := newTestLibrary(t, root, []string{".mp3"}, prober)

	tracks, err := lib.ListTracks(context.Background())
	if err != nil {
		t.Fatalf("ListTracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("expected both tracks to be stored, got %d", len(tracks))
	}
	if tracks[0].Name != "bad" || !tracks[0].DateProbed.IsZero() {
		t.Fatalf("expected unprobed track with file name, got %+v", tracks[0])
	}
	if tracks[1].Name != "probed good.mp3" {
		t.Fatalf("expected probed track, got %+v", tracks[1])
	}
}

func TestLibraryReadsShortcuts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "radio.strm"), "\n  http://radio.example/live.mp3  \n")
	writeFile(t, filepath.Join(root, "empty.strm"), "\n\n")

	lib, _ := newTestLibrary(t, root, []string{".strm"}, newFakeProber())

	track, err := lib.Track(context.Background(), TrackID(filepath.Join(root, "radio.strm")))
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if !track.IsShortcut || track.ShortcutPath != "http://radio.example/live.mp3" {
		t.Fatalf("unexpected shortcut track %+v", track)
	}
	if track.Protocol() != models.ProtocolFile {
		t.Fatalf("expected shortcut file to be stored as a local file, got %s", track.Protocol())
	}

	if _, err := lib.Track(context.Background(), TrackID(filepath.Join(root, "empty.strm"))); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected empty shortcut to be skipped, got %v", err)
	}
}

func TestLibraryRefresh(t *testing.T) {
	root := t.TempDir()
	song := filepath.Join(root, "song.ogg")
	writeFile(t, song, "audio")

	prober := newFakeProber()
	lib, _ := newTestLibrary(t, root, []string{".ogg"}, prober)

	track, err := lib.Refresh(context.Background(), TrackID(song))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if prober.count("song.ogg") != 2 || track.Name != "probed song.ogg" {
		t.Fatalf("expected forced probe, got %d probes", prober.count("song.ogg"))
	}

	if _, err := lib.Refresh(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	lib.inFlight.Store(TrackID(song), struct{}{})
	if _, err := lib.Refresh(context.Background(), TrackID(song)); !errors.Is(err, ErrProbeInProgress) {
		t.Fatalf("expected ErrProbeInProgress, got %v", err)
	}
	lib.inFlight.Delete(TrackID(song))

	prober.fail["song.ogg"] = errors.New("boom")
	if _, err := lib.Refresh(context.Background(), TrackID(song)); err == nil {
		t.Fatalf("expected probe failure to be returned")
	}
}

func TestLibraryScanCancelled(t *testing.T) {
	root := t.TempDir()
	lib, _ := newTestLibrary(t, root, []string{".wav"}, newFakeProber())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := lib.Scan(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTrackIDIsStable(t *testing.T) {
	if TrackID("/music/a.mp3") != TrackID("/music/a.mp3") {
		t.Fatalf("expected stable ids")
	}
	if TrackID("/music/a.mp3") == TrackID("/music/b.mp3") {
		t.Fatalf("expected distinct ids for distinct paths")
	}
}

func TestNewLibraryRequiresCollaborators(t *testing.T) {
	if _, err := NewLibrary(Config{Root: t.TempDir()}, nil, newFakeProber(), nil); err == nil {
		t.Fatalf("expected error without store")
	}
}

func waitFor(t *testing.T, predicate func() bool, label string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", label)
}
