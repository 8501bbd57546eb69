//go:build windows

package config

// registerSignalHandler is a no-op on Windows, which has no SIGHUP.
// Operational settings still hot-reload through the fsnotify watcher;
// only the signal-triggered path is unavailable.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("signal-triggered reload unavailable on this platform, file watcher only")
}
