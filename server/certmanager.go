package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// recheckInterval is the fallback poll for missed fsnotify events.
const recheckInterval = 5 * time.Minute

var errNoCertificate = errors.New("no certificate available")

// CertManager serves a certificate pair from disk and reloads it when either
// file changes.
type CertManager struct {
	certPath string
	keyPath  string

	mu      sync.RWMutex
	cert    *tls.Certificate
	modTime time.Time

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCertManager loads the pair and starts watching the containing directories.
func NewCertManager(certPath, keyPath string) (*CertManager, error) {
	cm := &CertManager{
		certPath: certPath,
		keyPath:  keyPath,
		stopCh:   make(chan struct{}),
	}

	if err := cm.Reload(); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// directories, so symlink swaps are seen too
	dirs := map[string]struct{}{
		filepath.Dir(certPath): {},
		filepath.Dir(keyPath):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	cm.watcher = watcher

	go cm.watch()

	return cm, nil
}

// Reload reads the pair from disk unconditionally.
func (cm *CertManager) Reload() error {
	cert, err := tls.LoadX509KeyPair(cm.certPath, cm.keyPath)
	if err != nil {
		return err
	}

	modTime, err := cm.latestModTime()
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.cert = &cert
	cm.modTime = modTime
	cm.mu.Unlock()

	zlog.Info("TLS certificate loaded", "cert", cm.certPath, "modtime", modTime)

	return nil
}

// GetCertificate is used as tls.Config.GetCertificate.
func (cm *CertManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.cert == nil {
		return nil, errNoCertificate
	}

	return cm.cert, nil
}

// Stop ends the watcher. Safe to call more than once.
func (cm *CertManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

func (cm *CertManager) latestModTime() (time.Time, error) {
	var latest time.Time

	for _, path := range []string{cm.certPath, cm.keyPath} {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}

	return latest, nil
}

func (cm *CertManager) watch() {
	defer cm.watcher.Close()

	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.stopCh:
			return

		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}

			if cm.relevant(event) {
				zlog.Debug("Certificate file event", "event", event.String())
				cm.reloadIfChanged()
			}

		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Certificate watcher failed", "error", err.Error())

		case <-ticker.C:
			cm.reloadIfChanged()
		}
	}
}

func (cm *CertManager) relevant(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)

	return event.Name == cm.certPath || event.Name == cm.keyPath ||
		name == filepath.Base(cm.certPath) || name == filepath.Base(cm.keyPath)
}

func (cm *CertManager) reloadIfChanged() {
	modTime, err := cm.latestModTime()
	if err != nil {
		zlog.Error("Certificate stat failed", "cert", cm.certPath, "error", err.Error())
		return
	}

	cm.mu.RLock()
	last := cm.modTime
	cm.mu.RUnlock()

	if !modTime.After(last) {
		return
	}

	// keep serving the previous pair when the new one is half written
	if err := cm.Reload(); err != nil {
		zlog.Error("Certificate reload failed", "cert", cm.certPath, "error", err.Error())
	}
}
