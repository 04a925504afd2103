package engine

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// QueueItem flags.
const (
	FlagUserList   = 1 << iota // the item is a user's file list
	FlagClientView             // the list should be opened in the browser
)

// QueueItem is a finished download reported by the queue manager.
type QueueItem struct {
	Target   string // local path of the downloaded file
	ListName string // path of the file list, for user-list items
	User     string
	Size     int64
	Flags    int
}

// IsUserList reports whether the item is a file-list fetch rather than a
// regular transfer. Unflagged items are sniffed: a bzip2 or XML payload
// named like a DC file list counts as one.
func (q QueueItem) IsUserList() bool {
	if q.Flags&(FlagUserList|FlagClientView) != 0 {
		return true
	}
	return looksLikeFileList(q.Target)
}

func looksLikeFileList(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if !strings.Contains(base, "files") || !strings.Contains(base, ".xml") {
		return false
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return false
	}
	return mt.Is("application/x-bzip2") || mt.Is("text/xml") || mt.Is("application/xml")
}
