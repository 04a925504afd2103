package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescp17/dcdesk/pkg/engine"
)

// tempSuffix marks downloads still being written.
const tempSuffix = ".dctmp"

// downloadWatcher reports files that appear in the download directory.
// The transfer engine writes there; a file showing up under its final
// name is a finished queue item.
type downloadWatcher struct {
	dir    string
	seen   map[string]struct{}
	primed bool
}

func newDownloadWatcher(dir string) *downloadWatcher {
	return &downloadWatcher{dir: dir, seen: make(map[string]struct{})}
}

// scan returns the items finished since the previous scan. The first scan
// only records what is already there.
func (w *downloadWatcher) scan() []engine.QueueItem {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Cannot read download directory", "dir", w.dir, "error", err)
		}
		return nil
	}

	var items []engine.QueueItem
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if _, ok := w.seen[name]; ok {
			continue
		}
		w.seen[name] = struct{}{}
		if !w.primed {
			continue
		}
		items = append(items, itemFor(filepath.Join(w.dir, name)))
	}
	w.primed = true
	return items
}

// itemFor builds the queue item for a finished file. File lists are named
// after their owner, e.g. "alice.files.xml.bz2".
func itemFor(path string) engine.QueueItem {
	item := engine.QueueItem{Target: path}
	if info, err := os.Stat(path); err == nil {
		item.Size = info.Size()
	}
	base := filepath.Base(path)
	if strings.Contains(strings.ToLower(base), ".xml") {
		user, _, _ := strings.Cut(base, ".")
		item.User = user
		item.ListName = path
	}
	return item
}
