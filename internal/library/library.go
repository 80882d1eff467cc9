package library

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	csmap "github.com/mhmtszr/concurrent-swiss-map"
	"golang.org/x/sync/errgroup"

	"trackprobe/internal/config"
	"trackprobe/internal/mediainfo"
	"trackprobe/internal/models"
	"trackprobe/internal/store"
)

// ErrProbeInProgress is returned by Refresh when the track is already
// being probed.
var ErrProbeInProgress = errors.New("probe already in progress")

// Store persists the tracks found by a scan.
type Store interface {
	SaveTrack(ctx context.Context, track *models.Track) error
	GetTrack(ctx context.Context, id string) (*models.Track, error)
	GetTrackByPath(ctx context.Context, path string) (*models.Track, error)
	ListTracks(ctx context.Context) ([]models.Track, error)
	DeleteTracksNotIn(ctx context.Context, paths []string) (int, error)
}

// Prober analyzes a track and merges the findings into it.
type Prober interface {
	Probe(ctx context.Context, track *models.Track, opts mediainfo.Options) (models.UpdateType, error)
}

// Config describes what a Library scans and how.
type Config struct {
	Root        string
	Extensions  []string
	Debounce    time.Duration
	Concurrency int
	// ProbeOptions is consulted before every probe. Nil means defaults.
	ProbeOptions func() mediainfo.Options
}

// Library monitors an audio directory and keeps the track store in sync
// with it.
type Library struct {
	root         string
	allowed      map[string]struct{}
	concurrency  int
	probeOptions func() mediainfo.Options

	store   Store
	prober  Prober
	watcher *fsnotify.Watcher
	logger  *log.Logger

	// inFlight holds the ids of tracks currently being probed.
	inFlight *csmap.CsMap[string, struct{}]
	scanMu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewLibrary creates a Library, performs an initial scan and starts
// watching cfg.Root for changes.
func NewLibrary(cfg Config, st Store, prober Prober, logger *log.Logger) (*Library, error) {
	if st == nil || prober == nil {
		return nil, errors.New("library requires a store and a prober")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ProbeOptions == nil {
		cfg.ProbeOptions = func() mediainfo.Options { return mediainfo.Options{} }
	}

	ctx, cancel := context.WithCancel(context.Background())
	lib := &Library{
		root:         filepath.Clean(cfg.Root),
		allowed:      make(map[string]struct{}, len(cfg.Extensions)),
		concurrency:  cfg.Concurrency,
		probeOptions: cfg.ProbeOptions,
		store:        st,
		prober:       prober,
		watcher:      watcher,
		logger:       logger,
		inFlight:     csmap.Create[string, struct{}](),
		ctx:          ctx,
		cancel:       cancel,
		refreshDelay: cfg.Debounce,
		done:         make(chan struct{}),
	}

	for _, ext := range cfg.Extensions {
		lib.allowed[strings.ToLower(ext)] = struct{}{}
	}

	lib.addWatchRecursive(lib.root)

	if err := lib.Scan(ctx); err != nil {
		cancel()
		watcher.Close()
		return nil, err
	}

	lib.wg.Add(1)
	go lib.run()

	return lib, nil
}

// Root returns the scanned directory.
func (l *Library) Root() string {
	return l.root
}

// Close stops the watcher, cancels running probes and cleans up resources.
func (l *Library) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cancel()

		l.refreshMu.Lock()
		if l.refreshTimer != nil {
			l.refreshTimer.Stop()
			l.refreshTimer = nil
		}
		l.refreshMu.Unlock()

		l.closeErr = l.watcher.Close()
		l.wg.Wait()
	})
	return l.closeErr
}

// ListTracks returns every stored track ordered by path.
func (l *Library) ListTracks(ctx context.Context) ([]models.Track, error) {
	return l.store.ListTracks(ctx)
}

// Track returns the stored track with the given id.
func (l *Library) Track(ctx context.Context, id string) (*models.Track, error) {
	return l.store.GetTrack(ctx, id)
}

// Refresh probes the track again regardless of whether its file changed.
func (l *Library) Refresh(ctx context.Context, id string) (*models.Track, error) {
	track, err := l.store.GetTrack(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(track.Path)
	switch {
	case err == nil:
		if err := applyFileState(track, info); err != nil {
			return nil, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if !l.claim(track.ID) {
		return nil, fmt.Errorf("%w: %s", ErrProbeInProgress, track.Path)
	}
	defer l.inFlight.Delete(track.ID)

	if _, err := l.prober.Probe(ctx, track, l.probeOptions()); err != nil {
		return nil, err
	}
	if err := l.store.SaveTrack(ctx, track); err != nil {
		return nil, err
	}
	return track, nil
}

// Scan walks the root, probes new and changed files and removes tracks
// whose files are gone. Probe failures are logged and do not stop the scan.
func (l *Library) Scan(ctx context.Context) error {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()

	var (
		seen    []string
		pending []*models.Track
	)

	err := filepath.WalkDir(l.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			l.logger.Printf("walk error for %s: %v", path, err)
			return nil
		}
		if d.IsDir() || !l.isAllowed(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			l.logger.Printf("stat error for %s: %v", path, err)
			return nil
		}

		track, changed, err := l.loadTrack(ctx, path, info)
		if err != nil {
			l.logger.Printf("track error for %s: %v", path, err)
			return nil
		}
		seen = append(seen, path)
		if changed {
			pending = append(pending, track)
		}
		return nil
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(l.concurrency)
	for _, track := range pending {
		if !l.claim(track.ID) {
			continue
		}
		group.Go(func() error {
			defer l.inFlight.Delete(track.ID)
			l.probeAndSave(groupCtx, track)
			return nil
		})
	}
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	removed, err := l.store.DeleteTracksNotIn(ctx, seen)
	if err != nil {
		return err
	}

	l.logger.Printf("library scanned: %d tracks, %d probed, %d removed", len(seen), len(pending), removed)
	return nil
}

// loadTrack returns the track for path and whether it needs probing.
func (l *Library) loadTrack(ctx context.Context, path string, info os.FileInfo) (*models.Track, bool, error) {
	track, err := l.store.GetTrackByPath(ctx, path)
	switch {
	case errors.Is(err, store.ErrNotFound):
		track, err = NewTrack(path, info)
		return track, err == nil, err
	case err != nil:
		return nil, false, err
	}

	changed := track.DateProbed.IsZero() ||
		track.FileSize != info.Size() ||
		!track.DateModified.Equal(info.ModTime().UTC())
	if !changed {
		return track, false, nil
	}
	if err := applyFileState(track, info); err != nil {
		return nil, false, err
	}
	return track, true, nil
}

func (l *Library) probeAndSave(ctx context.Context, track *models.Track) {
	if _, err := l.prober.Probe(ctx, track, l.probeOptions()); err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Printf("probe error for %s: %v", track.Path, err)
	}
	if err := l.store.SaveTrack(ctx, track); err != nil {
		l.logger.Printf("save error for %s: %v", track.Path, err)
	}
}

// claim marks id as in flight and reports whether it was free.
func (l *Library) claim(id string) bool {
	claimed := false
	l.inFlight.SetIf(id, func(_ struct{}, found bool) (struct{}, bool) {
		claimed = !found
		return struct{}{}, !found
	})
	return claimed
}

// TrackID derives the stable id of the track stored at path.
func TrackID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

// NewTrack builds the unprobed track for the file at path. Shortcut files
// have their target read immediately.
func NewTrack(path string, info os.FileInfo) (*models.Track, error) {
	protocol := models.ProtocolFile
	base := filepath.Base(path)
	track := &models.Track{
		ID:             TrackID(path),
		Path:           path,
		PathProtocol:   &protocol,
		IsShortcut:     strings.EqualFold(filepath.Ext(path), config.ShortcutExtension),
		Name:           strings.TrimSuffix(base, filepath.Ext(base)),
		SupportsPeople: true,
	}
	if err := applyFileState(track, info); err != nil {
		return nil, err
	}
	return track, nil
}

func applyFileState(track *models.Track, info os.FileInfo) error {
	track.FileSize = info.Size()
	track.DateModified = info.ModTime().UTC()
	if !track.IsShortcut {
		return nil
	}
	target, err := readShortcut(track.Path)
	if err != nil {
		return fmt.Errorf("read shortcut: %w", err)
	}
	track.ShortcutPath = target
	return nil
}

// readShortcut returns the first non-empty line of a shortcut file.
func readShortcut(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", errors.New("shortcut is empty")
}

func (l *Library) run() {
	defer l.wg.Done()

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Printf("watcher error: %v", err)
		case <-l.done:
			return
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			l.addWatchRecursive(event.Name)
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		if l.isAllowed(event.Name) || event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			l.scheduleRefresh()
		}
	}
}

func (l *Library) scheduleRefresh() {
	select {
	case <-l.done:
		return
	default:
	}

	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	if l.refreshTimer != nil {
		l.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(l.refreshDelay, func() {
		if err := l.Scan(l.ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Printf("refresh error: %v", err)
		}

		l.refreshMu.Lock()
		if l.refreshTimer == timer {
			l.refreshTimer = nil
		}
		l.refreshMu.Unlock()
	})

	l.refreshTimer = timer
}

func (l *Library) addWatchRecursive(path string) {
	filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			l.logger.Printf("walk error for %s: %v", p, err)
			return nil
		}

		if d.IsDir() {
			if err := l.watcher.Add(p); err != nil {
				l.logger.Printf("watcher add failure for %s: %v", p, err)
			}
		}
		return nil
	})
}

func (l *Library) isAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := l.allowed[ext]
	return ok
}
