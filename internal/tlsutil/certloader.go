// Package tlsutil terminates TLS for the gateway: certificate loading
// with automatic reload on rotation, so certs can be renewed without a
// restart.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dskow/baas-gateway/internal/config"
)

// CertLoader serves the current certificate to TLS handshakes and swaps
// it when the files on disk change. The parent directories are watched
// rather than the files themselves: secret mounts and certbot renewals
// replace certs by rename, which silently drops a direct file watch.
type CertLoader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	cfg      config.TLSConfig
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New loads the initial certificate and starts the rotation watcher.
func New(cfg config.TLSConfig, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	if err := cl.load(); err != nil {
		return nil, fmt.Errorf("initial certificate load: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating cert watcher: %w", err)
	}
	for _, dir := range watchDirs(cfg.CertFile, cfg.KeyFile) {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	cl.watcher = watcher
	go cl.watchLoop()

	logger.Info("TLS certificate loaded, watching for rotation",
		"cert_file", cfg.CertFile, "key_file", cfg.KeyFile)
	return cl, nil
}

// watchDirs returns the deduplicated parent directories of the given files.
func watchDirs(files ...string) []string {
	seen := make(map[string]struct{}, len(files))
	var dirs []string
	for _, f := range files {
		dir := filepath.Dir(f)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

// ServerConfig returns a tls.Config for the gateway's listener. The
// GetCertificate callback reads the latest loaded cert on every
// handshake, so rotations apply to new connections immediately.
func (cl *CertLoader) ServerConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     minVersion(cl.cfg.MinVersion),
		GetCertificate: cl.GetCertificate,
	}
}

func minVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

// GetCertificate is the tls.Config.GetCertificate callback.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.cert, nil
}

// Reload re-reads the cert/key pair from disk. On failure the current
// certificate stays in service.
func (cl *CertLoader) Reload() error {
	if err := cl.load(); err != nil {
		cl.logger.Error("TLS certificate reload failed, keeping current",
			"error", err, "cert_file", cl.cfg.CertFile)
		return err
	}
	cl.logger.Info("TLS certificate reloaded", "cert_file", cl.cfg.CertFile)
	return nil
}

// Stop terminates the rotation watcher. Safe to call more than once.
func (cl *CertLoader) Stop() {
	cl.stopOnce.Do(func() {
		close(cl.stopCh)
		if cl.watcher != nil {
			cl.watcher.Close()
		}
	})
}

func (cl *CertLoader) load() error {
	cert, err := tls.LoadX509KeyPair(cl.cfg.CertFile, cl.cfg.KeyFile)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	cl.cert = &cert
	cl.mu.Unlock()
	return nil
}

func (cl *CertLoader) watchLoop() {
	// Renewals touch cert and key in quick succession; debounce so the
	// pair is reloaded once, after both files have settled.
	var debounce *time.Timer

	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			if !cl.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					cl.Reload() //nolint:errcheck
				})
			}
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("cert watcher error", "error", err)
		case <-cl.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// relevant filters directory events down to the two files we care about.
func (cl *CertLoader) relevant(name string) bool {
	return filepath.Clean(name) == filepath.Clean(cl.cfg.CertFile) ||
		filepath.Clean(name) == filepath.Clean(cl.cfg.KeyFile)
}
