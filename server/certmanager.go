package server

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// CertManager hands the current TLS key pair to the DoT and DoQ
// listeners and swaps it in place when the files on disk change, so
// certificate renewals need no restart.
type CertManager struct {
	certPath string
	keyPath  string

	mu          sync.RWMutex
	certificate *tls.Certificate
	lastModTime time.Time

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// NewCertManager loads the key pair and starts watching it.
func NewCertManager(certPath, keyPath string) (*CertManager, error) {
	cm := &CertManager{
		certPath: certPath,
		keyPath:  keyPath,
		stopCh:   make(chan struct{}),
	}

	if err := cm.load(); err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	cm.watcher = watcher

	// Watch the directories, not the files, renewals typically swap
	// symlinks or rename into place.
	if err := watcher.Add(filepath.Dir(certPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch certificate directory: %w", err)
	}
	if filepath.Dir(keyPath) != filepath.Dir(certPath) {
		if err := watcher.Add(filepath.Dir(keyPath)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch key directory: %w", err)
		}
	}

	go cm.watch()

	return cm, nil
}

func (cm *CertManager) load() error {
	cert, err := tls.LoadX509KeyPair(cm.certPath, cm.keyPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(cm.certPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.certificate = &cert
	cm.lastModTime = info.ModTime()
	cm.mu.Unlock()

	zlog.Info("TLS certificate loaded", "cert", cm.certPath, "modTime", info.ModTime())

	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (cm *CertManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.certificate == nil {
		return nil, fmt.Errorf("no certificate available")
	}

	return cm.certificate, nil
}

// GetTLSConfig returns a fresh config bound to the live certificate.
func (cm *CertManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: cm.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

func (cm *CertManager) watch() {
	defer cm.watcher.Close()

	// fsnotify can miss events on some filesystems, stat periodically
	// as a fallback.
	ticker := time.NewTicker(5 * time.Minute)
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
				cm.checkAndReload()
			}

		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Certificate watcher error", "error", err.Error())

		case <-ticker.C:
			cm.checkAndReload()
		}
	}
}

func (cm *CertManager) relevant(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	return name == filepath.Base(cm.certPath) || name == filepath.Base(cm.keyPath) ||
		event.Name == cm.certPath || event.Name == cm.keyPath
}

func (cm *CertManager) checkAndReload() {
	info, err := os.Stat(cm.certPath)
	if err != nil {
		zlog.Error("Failed to stat certificate file", "path", cm.certPath, "error", err.Error())
		return
	}

	cm.mu.RLock()
	lastMod := cm.lastModTime
	cm.mu.RUnlock()

	if info.ModTime().After(lastMod) {
		zlog.Info("Certificate file changed, reloading", "path", cm.certPath)
		if err := cm.Reload(); err != nil {
			zlog.Error("Failed to reload certificate", "error", err.Error())
		}
	}
}

// Reload forces a certificate reload.
func (cm *CertManager) Reload() error {
	return cm.load()
}

// Stop stops the watcher.
func (cm *CertManager) Stop() {
	close(cm.stopCh)
}
