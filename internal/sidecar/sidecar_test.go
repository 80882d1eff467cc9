package sidecar

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	videoName = "video-9C788453-4980-42ED-8C2D-35B1F010A825.mkv"
	audioName = "video-9C788453-4980-42ED-8C2D-35B1F010A825.mka"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLocateFindsCompanionInSubdirectory(t *testing.T) {
	tests := []struct {
		dir   string
		masks string
	}{
		{".", "sound*"},
		{"sound", "sound*"},
		{"Sound", "sound*, translation*"},
		{"Rus Sound", "*sound*, translation*"},
	}

	for _, tc := range tests {
		t.Run(tc.dir, func(t *testing.T) {
			root := t.TempDir()
			primary := touch(t, filepath.Join(root, videoName))
			audio := touch(t, filepath.Join(root, tc.dir, audioName))

			files, err := Locate(primary, tc.masks)
			if err != nil {
				t.Fatalf("Locate: %v", err)
			}
			if diff := cmp.Diff([]string{filepath.Clean(audio)}, files); diff != "" {
				t.Fatalf("unexpected sidecars (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocateEmptyMaskConfigSkipsDiscovery(t *testing.T) {
	root := t.TempDir()
	primary := touch(t, filepath.Join(root, videoName))
	touch(t, filepath.Join(root, audioName))

	for _, masks := range []string{"", "   ", "\t"} {
		files, err := Locate(primary, masks)
		if err != nil {
			t.Fatalf("Locate(%q): %v", masks, err)
		}
		if len(files) != 0 {
			t.Fatalf("Locate(%q) = %v, want empty", masks, files)
		}
	}

	// No filesystem access happens, so a missing directory is not an error.
	files, err := Locate("/does/not/exist/track.mp3", "")
	if err != nil || len(files) != 0 {
		t.Fatalf("expected empty result without error, got %v %v", files, err)
	}
}

func TestLocateExcludesPrimaryFile(t *testing.T) {
	root := t.TempDir()
	primary := touch(t, filepath.Join(root, "track.flac"))
	touch(t, filepath.Join(root, "track.flac.bak"))
	touch(t, filepath.Join(root, "other.flac"))
	touch(t, filepath.Join(root, "trackless.flac"))

	files, err := Locate(primary, "nothing*")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	want := []string{filepath.Join(root, "track.flac.bak")}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("unexpected sidecars (-want +got):\n%s", diff)
	}
}

func TestLocateOverlappingMasksDuplicate(t *testing.T) {
	root := t.TempDir()
	primary := touch(t, filepath.Join(root, "song.mp3"))
	sidecar := touch(t, filepath.Join(root, "Soundtrack", "song.mka"))

	files, err := Locate(primary, "sound*,*track")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if diff := cmp.Diff([]string{sidecar, sidecar}, files); diff != "" {
		t.Fatalf("expected duplicate entries (-want +got):\n%s", diff)
	}
}

func TestLocateLiteralMaskIsExact(t *testing.T) {
	root := t.TempDir()
	primary := touch(t, filepath.Join(root, "song.mp3"))
	inSound := touch(t, filepath.Join(root, "SOUND", "song.aac"))
	touch(t, filepath.Join(root, "Soundtrack", "song.aac"))

	files, err := Locate(primary, "Sound")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if diff := cmp.Diff([]string{inSound}, files); diff != "" {
		t.Fatalf("unexpected sidecars (-want +got):\n%s", diff)
	}
}

func TestLocateOrdersSameDirectoryFirstThenMasks(t *testing.T) {
	root := t.TempDir()
	primary := touch(t, filepath.Join(root, "song.mp3"))
	sameDir := touch(t, filepath.Join(root, "song.ac3"))
	translated := touch(t, filepath.Join(root, "translation", "song.mka"))
	deep := touch(t, filepath.Join(root, "sound", "deep", "song.dts"))
	shallow := touch(t, filepath.Join(root, "sound", "song.aac"))
	touch(t, filepath.Join(root, "sound", "other.aac"))

	files, err := Locate(primary, "translation*,sound")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	want := []string{sameDir, translated, deep, shallow}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestLocateReturnsAbsolutePaths(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, videoName))
	touch(t, filepath.Join(root, "Sound", audioName))
	t.Chdir(root)

	files, err := Locate(videoName, "sound*")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	want, err := filepath.Abs(filepath.Join("Sound", audioName))
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if diff := cmp.Diff([]string{want}, files); diff != "" {
		t.Fatalf("unexpected sidecars (-want +got):\n%s", diff)
	}
	if !filepath.IsAbs(files[0]) {
		t.Fatalf("expected absolute path, got %q", files[0])
	}
}

func TestLocateMissingDirectory(t *testing.T) {
	root := t.TempDir()
	_, err := Locate(filepath.Join(root, "missing", "song.mp3"), "sound*")
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if !errors.Is(err, ErrFilesystemAccess) {
		t.Fatalf("expected ErrFilesystemAccess, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}

func TestMasks(t *testing.T) {
	got := Masks("sound*,, translation* ,")
	want := []string{"sound*", " translation* "}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Masks mismatch (-want +got):\n%s", diff)
	}
}
