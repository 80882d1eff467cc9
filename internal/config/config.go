package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var allowedExtensions = []string{
	".mp3",
	".m4a",
	".aac",
	".wav",
	".flac",
	".ogg",
	".opus",
	".wma",
	".strm",
}

const (
	defaultListenAddr        = "127.0.0.1:8080"
	defaultRefreshDebounceMS = 500
	defaultScanConcurrency   = 4
	defaultLogMaxSizeMB      = 10
	defaultLogMaxBackups     = 3
	defaultLogMaxAgeDays     = 28
)

// ShortcutExtension marks files whose content is the path of the real media.
const ShortcutExtension = ".strm"

// AllowedExtensions returns the list of supported audio file extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// ResolveAudioRoot returns the directory that should be scanned for audio files.
// The directory is created when it does not yet exist.
func ResolveAudioRoot() (string, error) {
	dir := strings.TrimSpace(os.Getenv("TRACKPROBE_AUDIO_DIR"))
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(cwd, "audio")
	}

	abs, err := expandPath(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}

	return abs, nil
}

// ResolveDatabasePath returns the absolute path of the SQLite database.
func ResolveDatabasePath() (string, error) {
	path := strings.TrimSpace(os.Getenv("TRACKPROBE_DB"))
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = filepath.Join(cwd, "data", "trackprobe.db")
	}
	return expandPath(path)
}

// ListenAddr returns the TCP address the HTTP server should bind to.
func ListenAddr() string {
	addr := strings.TrimSpace(os.Getenv("TRACKPROBE_LISTEN_ADDR"))
	if addr == "" {
		return defaultListenAddr
	}
	return addr
}

// RefreshDebounce returns the duration to wait before refreshing the library
// after file-system change events.
func RefreshDebounce() time.Duration {
	ms := envInt("TRACKPROBE_REFRESH_DEBOUNCE_MS", defaultRefreshDebounceMS, 0)
	return time.Duration(ms) * time.Millisecond
}

// ScanConcurrency returns how many files a library scan probes at once.
func ScanConcurrency() int {
	return envInt("TRACKPROBE_SCAN_CONCURRENCY", defaultScanConcurrency, 1)
}

func envInt(key string, fallback, floor int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < floor {
		return fallback
	}
	return n
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// ResolveTokenFile returns the absolute path to the API token file when configured.
// The file is created if it does not already exist. When no file is configured the
// second return value will be false.
func ResolveTokenFile() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv("TRACKPROBE_TOKEN_FILE"))
	if path == "" {
		return "", false, nil
	}

	abs, err := expandPath(path)
	if err != nil {
		return "", false, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", false, err
	}

	if _, err := os.Stat(abs); err != nil {
		if !os.IsNotExist(err) {
			return "", false, err
		}
		file, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return "", false, err
		}
		if err := file.Close(); err != nil {
			return "", false, err
		}
	}

	return abs, true, nil
}

// LogSettings configures the optional rotating log file.
type LogSettings struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ResolveLogSettings reads the log file location and rotation limits. An
// empty File means logs only go to stderr.
func ResolveLogSettings() (LogSettings, error) {
	settings := LogSettings{
		MaxSizeMB:  envInt("TRACKPROBE_LOG_MAX_SIZE_MB", defaultLogMaxSizeMB, 1),
		MaxBackups: defaultLogMaxBackups,
		MaxAgeDays: defaultLogMaxAgeDays,
	}
	path := strings.TrimSpace(os.Getenv("TRACKPROBE_LOG_FILE"))
	if path == "" {
		return settings, nil
	}
	abs, err := expandPath(path)
	if err != nil {
		return LogSettings{}, err
	}
	settings.File = abs
	return settings, nil
}

// EncodingOptions are the probe settings that may change while the
// service runs. They are re-read for every probe.
type EncodingOptions struct {
	// ExternalAudioPathMasks is a comma separated list of folder masks
	// searched for sidecar audio.
	ExternalAudioPathMasks   string `yaml:"external_audio_path_masks" toml:"external_audio_path_masks"`
	EnableRemoteContentProbe bool   `yaml:"enable_remote_content_probe" toml:"enable_remote_content_probe"`
	Analyzer                 string `yaml:"analyzer" toml:"analyzer"`
	FFProbePath              string `yaml:"ffprobe_path" toml:"ffprobe_path"`
}

// LoadEncodingOptions returns the encoding options after applying the
// optional config file (YAML or TOML by extension) and environment overrides.
func LoadEncodingOptions() (EncodingOptions, error) {
	var opts EncodingOptions

	configPath := strings.TrimSpace(os.Getenv("TRACKPROBE_CONFIG"))
	if configPath != "" {
		resolved, err := expandPath(configPath)
		if err != nil {
			return EncodingOptions{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return EncodingOptions{}, err
		}
		if err := decodeConfig(resolved, data, &opts); err != nil {
			return EncodingOptions{}, err
		}
	}

	if value, ok := os.LookupEnv("TRACKPROBE_EXTERNAL_AUDIO_MASKS"); ok {
		opts.ExternalAudioPathMasks = value
	}
	if value := strings.TrimSpace(os.Getenv("TRACKPROBE_REMOTE_PROBE")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return EncodingOptions{}, fmt.Errorf("parse TRACKPROBE_REMOTE_PROBE: %w", err)
		}
		opts.EnableRemoteContentProbe = enabled
	}
	if value := strings.TrimSpace(os.Getenv("TRACKPROBE_ANALYZER")); value != "" {
		opts.Analyzer = value
	}
	if value := strings.TrimSpace(os.Getenv("TRACKPROBE_FFPROBE_PATH")); value != "" {
		opts.FFProbePath = value
	}

	opts.Analyzer = strings.ToLower(strings.TrimSpace(opts.Analyzer))
	return opts, nil
}

func decodeConfig(path string, data []byte, opts *EncodingOptions) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, opts); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, opts); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Abs(path)
}
