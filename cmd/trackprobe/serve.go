package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"trackprobe/internal/auth"
	"trackprobe/internal/config"
	"trackprobe/internal/library"
	"trackprobe/internal/logging"
	"trackprobe/internal/server"
	"trackprobe/internal/store"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the audio directory and serve the track API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	logSettings, err := config.ResolveLogSettings()
	if err != nil {
		return fmt.Errorf("resolve log settings: %w", err)
	}
	logger, logCloser := logging.New(logSettings, "trackprobe ")
	if logCloser != nil {
		defer logCloser.Close()
	}

	audioRoot, err := config.ResolveAudioRoot()
	if err != nil {
		return fmt.Errorf("resolve audio root: %w", err)
	}

	listenAddr := config.ListenAddr()
	if err := config.ValidateListenAddr(listenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}

	dbPath, err := config.ResolveDatabasePath()
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another trackprobe instance is already serving this database")
	}
	defer func() { _ = lock.Unlock() }()

	s := settings{logger: logger}
	invoker, err := newInvoker(st, s)
	if err != nil {
		return err
	}

	debounce := config.RefreshDebounce()
	lib, err := library.NewLibrary(library.Config{
		Root:         audioRoot,
		Extensions:   config.AllowedExtensions(),
		Debounce:     debounce,
		Concurrency:  config.ScanConcurrency(),
		ProbeOptions: s.probeOptions,
	}, st, invoker, logger)
	if err != nil {
		return fmt.Errorf("initialise library: %w", err)
	}
	defer func() {
		if err := lib.Close(); err != nil {
			logger.Printf("error closing library: %v", err)
		}
	}()

	tokenFile, tokensEnabled, err := config.ResolveTokenFile()
	if err != nil {
		return fmt.Errorf("resolve token file: %w", err)
	}

	var authz server.Authorizer
	if tokensEnabled {
		keyring, err := auth.OpenKeyring(tokenFile, debounce, logger)
		if err != nil {
			return fmt.Errorf("initialise keyring: %w", err)
		}
		defer func() {
			if err := keyring.Close(); err != nil {
				logger.Printf("error closing keyring: %v", err)
			}
		}()
		authz = keyring
	}

	handler := server.New(lib, st, authz, audioRoot, logger)
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("graceful shutdown error: %v", err)
		}
	}()

	logger.Printf("listening on %s (audio directory: %s, database: %s)", listenAddr, audioRoot, dbPath)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Println("shutdown complete")
	return nil
}
