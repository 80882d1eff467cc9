package auth

import (
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestKeyring(t *testing.T, file string) *Keyring {
	t.Helper()
	k, err := OpenKeyring(file, 10*time.Millisecond, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("OpenKeyring: %v", err)
	}
	t.Cleanup(func() {
		if err := k.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return k
}

func TestKeyringLoadsAndReloads(t *testing.T) {
	file := filepath.Join(t.TempDir(), "api.tokens")
	writeTokenFile(t, file, "alpha\n")

	k := openTestKeyring(t, file)
	if _, ok := k.Lookup("alpha"); !ok {
		t.Fatalf("expected initial token to be valid")
	}
	if _, ok := k.Lookup("beta"); ok {
		t.Fatalf("unexpected token accepted")
	}

	writeTokenFile(t, file, "alpha\n\n beta \n")
	waitForToken(t, k, "beta", true)

	writeTokenFile(t, file, "beta\n")
	waitForToken(t, k, "alpha", false)

	if _, ok := k.Lookup("  "); ok {
		t.Fatalf("expected blank token to be rejected")
	}
}

func TestKeyringLabelsAndComments(t *testing.T) {
	file := filepath.Join(t.TempDir(), "api.tokens")
	writeTokenFile(t, file, "# scanner clients\nhome assistant  s3cret\nplain\n#disabled\n")

	k := openTestKeyring(t, file)
	if k.Len() != 2 {
		t.Fatalf("expected 2 tokens, got %d", k.Len())
	}
	if label, ok := k.Lookup("s3cret"); !ok || label != "home assistant" {
		t.Fatalf("expected labelled token, got %q %v", label, ok)
	}
	if label, ok := k.Lookup("plain"); !ok || label != "" {
		t.Fatalf("expected unlabelled token, got %q %v", label, ok)
	}
	if _, ok := k.Lookup("#disabled"); ok {
		t.Fatalf("comment lines must not become tokens")
	}
}

func TestKeyringHandlesFileRemoval(t *testing.T) {
	file := filepath.Join(t.TempDir(), "api.tokens")
	writeTokenFile(t, file, "alpha\n")

	k := openTestKeyring(t, file)
	if err := os.Remove(file); err != nil {
		t.Fatalf("remove token file: %v", err)
	}
	waitForToken(t, k, "alpha", false)
}

func TestKeyringSiblingFileIgnored(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "api.tokens")
	writeTokenFile(t, file, "alpha\n")

	k := openTestKeyring(t, file)
	writeTokenFile(t, filepath.Join(dir, "other.txt"), "noise")
	time.Sleep(100 * time.Millisecond)

	if _, ok := k.Lookup("alpha"); !ok {
		t.Fatalf("expected alpha to remain valid after sibling write")
	}
}

func TestKeyringConcurrentLookups(t *testing.T) {
	file := filepath.Join(t.TempDir(), "api.tokens")
	writeTokenFile(t, file, "alpha\nbeta\n")

	k := openTestKeyring(t, file)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				k.Lookup("alpha")
				k.Lookup("invalid")
			}
		}()
	}

	writeTokenFile(t, file, "alpha\nbeta\ngamma\n")
	time.Sleep(50 * time.Millisecond)
	writeTokenFile(t, file, "alpha\n")

	wg.Wait()
}

func TestRequestToken(t *testing.T) {
	cases := []struct {
		name   string
		target string
		header map[string]string
		want   string
	}{
		{name: "query", target: "/tracks?token=q", want: "q"},
		{name: "header", target: "/tracks", header: map[string]string{HeaderName: " h "}, want: "h"},
		{name: "bearer", target: "/tracks", header: map[string]string{"Authorization": "Bearer b"}, want: "b"},
		{name: "bearer lowercase", target: "/tracks", header: map[string]string{"Authorization": "bearer b"}, want: "b"},
		{name: "basic ignored", target: "/tracks", header: map[string]string{"Authorization": "Basic abc"}, want: ""},
		{name: "query wins", target: "/tracks?token=q", header: map[string]string{HeaderName: "h"}, want: "q"},
		{name: "none", target: "/tracks", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			for key, value := range tc.header {
				req.Header.Set(key, value)
			}
			if got := RequestToken(req); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	file := filepath.Join(t.TempDir(), "api.tokens")
	writeTokenFile(t, file, "cli alpha\n")
	k := openTestKeyring(t, file)

	req := httptest.NewRequest("GET", "/tracks", nil)
	req.Header.Set("Authorization", "Bearer alpha")
	if label, ok := k.Authorize(req); !ok || label != "cli" {
		t.Fatalf("expected authorized request, got %q %v", label, ok)
	}

	req = httptest.NewRequest("GET", "/tracks?token=nope", nil)
	if _, ok := k.Authorize(req); ok {
		t.Fatalf("expected unknown token to be rejected")
	}
}

func writeTokenFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir token dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write token file: %v", err)
	}
}

func waitForToken(t *testing.T, k *Keyring, token string, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := k.Lookup(token); ok == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for token %s to reach state %v", token, want)
}
