package geo

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// Index is a read-only prefix database mapping client addresses to
// coordinates. The database file holds one "cidr lat lon" row per line,
// '#' starts a comment. Reloads swap the whole trie atomically, lookups
// never block on a reload.
type Index struct {
	path string

	ranger atomic.Value // cidranger.Ranger

	mu          sync.Mutex
	lastModTime time.Time

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

type rangerEntry struct {
	network net.IPNet
	coord   Coordinate
}

func (e *rangerEntry) Network() net.IPNet { return e.network }

// Open loads the database at path and starts watching it for changes.
func Open(path string) (*Index, error) {
	ix := &Index{
		path:   path,
		stopCh: make(chan struct{}),
	}

	if err := ix.reload(); err != nil {
		return nil, fmt.Errorf("failed to load geo database: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	ix.watcher = watcher

	// Watch the directory, not the file, so atomic rename-into-place
	// refreshes are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch geo database directory: %w", err)
	}

	go ix.watch()

	return ix, nil
}

var (
	sharedOnce sync.Once
	shared     *Index
	sharedErr  error
)

// Shared returns the process-wide index for path, opening it on first
// use. Every pipeline stage sees the same database generation that
// way. An empty path returns a nil index, which locates nothing.
func Shared(path string) (*Index, error) {
	if path == "" {
		return nil, nil
	}
	sharedOnce.Do(func() {
		shared, sharedErr = Open(path)
	})
	return shared, sharedErr
}

// Locate returns the coordinate of the most specific prefix containing
// ip, or false when the address is not in the database. A nil index
// locates nothing.
func (ix *Index) Locate(ip net.IP) (Coordinate, bool) {
	if ix == nil {
		return Coordinate{}, false
	}

	r, ok := ix.ranger.Load().(cidranger.Ranger)
	if !ok || ip == nil {
		return Coordinate{}, false
	}

	entries, err := r.ContainingNetworks(ip)
	if err != nil || len(entries) == 0 {
		return Coordinate{}, false
	}

	// Entries are ordered ancestor first, the last one is the most
	// specific prefix.
	entry := entries[len(entries)-1].(*rangerEntry)

	return entry.coord, true
}

// Close stops the file watcher.
func (ix *Index) Close() error {
	close(ix.stopCh)
	if ix.watcher != nil {
		return ix.watcher.Close()
	}
	return nil
}

func (ix *Index) reload() error {
	file, err := os.Open(ix.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	ranger := cidranger.NewPCTrieRanger()
	lineno := 0
	loaded := 0

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineno++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			zlog.Warn("Geo database row malformed", "path", ix.path, "line", lineno)
			continue
		}

		_, network, err := net.ParseCIDR(fields[0])
		if err != nil {
			zlog.Warn("Geo database cidr invalid", "path", ix.path, "line", lineno, "error", err.Error())
			continue
		}

		lat, err1 := strconv.ParseFloat(fields[1], 64)
		lon, err2 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil {
			zlog.Warn("Geo database coordinate invalid", "path", ix.path, "line", lineno)
			continue
		}

		if err := ranger.Insert(&rangerEntry{network: *network, coord: Coordinate{Lat: lat, Lon: lon}}); err != nil {
			zlog.Warn("Geo database insert failed", "path", ix.path, "line", lineno, "error", err.Error())
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	ix.ranger.Store(ranger)

	ix.mu.Lock()
	ix.lastModTime = info.ModTime()
	ix.mu.Unlock()

	zlog.Info("Geo database loaded", "path", ix.path, "prefixes", loaded)

	return nil
}

// watch refreshes the database on file events, with a periodic stat
// fallback in case events are missed.
func (ix *Index) watch() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ix.stopCh:
			return

		case event, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(ix.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			zlog.Info("Geo database changed, reloading", "path", ix.path)
			if err := ix.reload(); err != nil {
				zlog.Error("Geo database reload failed", "path", ix.path, "error", err.Error())
			}

		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Geo database watcher error", "error", err.Error())

		case <-ticker.C:
			info, err := os.Stat(ix.path)
			if err != nil {
				continue
			}

			ix.mu.Lock()
			changed := info.ModTime().After(ix.lastModTime)
			ix.mu.Unlock()

			if changed {
				if err := ix.reload(); err != nil {
					zlog.Error("Geo database reload failed", "path", ix.path, "error", err.Error())
				}
			}
		}
	}
}
