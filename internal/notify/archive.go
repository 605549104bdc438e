package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"hybrid_monitor/internal/alert"
)

const archivePrefix = "alert_"

var ErrArchiveFull = errors.New("alert archive full")

// Archive keeps one JSON file per alert in dir. When the directory would
// exceed maxBytes the oldest files are removed first.
type Archive struct {
	dir      string
	maxBytes int64
	now      func() time.Time
	mu       sync.Mutex
}

func NewArchive(dir string, maxBytes int64) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Archive{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (a *Archive) Name() string { return "archive" }

func (a *Archive) Send(_ context.Context, rec alert.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureCap(int64(len(data))); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%d.json", archivePrefix, a.now().UnixNano())
	return os.WriteFile(filepath.Join(a.dir, name), data, 0o600)
}

// Files lists archived alerts, oldest first.
func (a *Archive) Files() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	files, _, err := a.list()
	return files, err
}

// list returns archive file names sorted oldest first and their total size.
func (a *Archive) list() ([]string, int64, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, 0, err
	}
	var (
		files []string
		total int64
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), archivePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, e.Name())
		total += info.Size()
	}
	// Fixed-width nanosecond stamps sort chronologically.
	sort.Strings(files)
	return files, total, nil
}

func (a *Archive) ensureCap(next int64) error {
	if a.maxBytes <= 0 {
		return nil
	}
	if next > a.maxBytes {
		return ErrArchiveFull
	}
	files, cur, err := a.list()
	if err != nil {
		return err
	}
	for _, name := range files {
		if cur+next <= a.maxBytes {
			break
		}
		path := filepath.Join(a.dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		cur -= info.Size()
	}
	if cur+next > a.maxBytes {
		return ErrArchiveFull
	}
	return nil
}
