// Package auth guards the HTTP API with tokens listed in a watched file.
package auth

import (
	"bufio"
	"bytes"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HeaderName is the request header that may carry an API token.
const HeaderName = "X-Trackprobe-Token"

// Keyring holds the API tokens listed in a file and reloads them when the
// file changes.
//
// Each non-empty line holds a token, optionally preceded by a label and a
// space ("ci 3f9a..."). Lines starting with # are ignored.
type Keyring struct {
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher
	delay   time.Duration

	mu     sync.RWMutex
	labels map[string]string

	timerMu sync.Mutex
	timer   *time.Timer

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// OpenKeyring loads the tokens in path and starts watching it. Reloads are
// debounced by delay.
func OpenKeyring(path string, delay time.Duration, logger *log.Logger) (*Keyring, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	k := &Keyring{
		path:    filepath.Clean(path),
		logger:  logger,
		watcher: watcher,
		delay:   delay,
		labels:  make(map[string]string),
		done:    make(chan struct{}),
	}

	if err := k.reload(); err != nil {
		watcher.Close()
		return nil, err
	}

	// Editors often replace the file, so the directory is watched as well.
	if err := watcher.Add(filepath.Dir(k.path)); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(k.path); err != nil {
		k.logger.Printf("keyring could not watch %s directly: %v", k.path, err)
	}

	k.wg.Add(1)
	go k.watch()

	return k, nil
}

// Close stops watching the token file.
func (k *Keyring) Close() error {
	k.closeOnce.Do(func() {
		close(k.done)

		k.timerMu.Lock()
		if k.timer != nil {
			k.timer.Stop()
			k.timer = nil
		}
		k.timerMu.Unlock()

		k.closeErr = k.watcher.Close()
		k.wg.Wait()
	})
	return k.closeErr
}

// Lookup returns the label of token and whether the token is known.
func (k *Keyring) Lookup(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	label, ok := k.labels[token]
	return label, ok
}

// Len returns the number of loaded tokens.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.labels)
}

// Authorize reports whether r carries a known token. The token is read
// from the token query parameter, the HeaderName header or a bearer
// Authorization header, in that order.
func (k *Keyring) Authorize(r *http.Request) (string, bool) {
	return k.Lookup(RequestToken(r))
}

// RequestToken extracts the API token from r.
func RequestToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if header := strings.TrimSpace(r.Header.Get(HeaderName)); header != "" {
		return header
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return ""
}

func (k *Keyring) watch() {
	defer k.wg.Done()

	for {
		select {
		case event, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != k.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				k.scheduleReload()
			}
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			k.logger.Printf("keyring watcher error: %v", err)
		case <-k.done:
			return
		}
	}
}

func (k *Keyring) scheduleReload() {
	select {
	case <-k.done:
		return
	default:
	}

	k.timerMu.Lock()
	defer k.timerMu.Unlock()

	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(k.delay, func() {
		if err := k.reload(); err != nil {
			k.logger.Printf("keyring reload error: %v", err)
		}
	})
}

func (k *Keyring) reload() error {
	data, err := os.ReadFile(k.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err != nil {
		k.logger.Printf("token file %s missing; API locked", k.path)
	}

	labels := parseTokens(data)

	k.mu.Lock()
	k.labels = labels
	k.mu.Unlock()

	k.logger.Printf("loaded %d API tokens", len(labels))
	return nil
}

func parseTokens(data []byte) map[string]string {
	labels := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		token, label := fields[len(fields)-1], ""
		if len(fields) > 1 {
			label = strings.Join(fields[:len(fields)-1], " ")
		}
		labels[token] = label
	}
	return labels
}
