// Package archive writes the items of a search run to JSON files.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/search-poller/pkg/logging"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/rs/zerolog"
)

// TimestampLayout is the timestamp part of archive file names.
const TimestampLayout = "2006-01-02 15:04:05"

// defaultToken names files of searches without a usable first query token.
const defaultToken = "search"

// Writer writes archive files into one directory.
type Writer struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// NewWriter creates a writer for dir, creating the directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %q: %w", abs, err)
	}

	return &Writer{
		dir:    abs,
		now:    time.Now,
		logger: logging.NewLogger("archive"),
	}, nil
}

// Dir returns the absolute archive directory.
func (w *Writer) Dir() string {
	return w.dir
}

// FileName returns the archive file name for query at t:
// "<first query token> at <YYYY-MM-DD HH:MM:SS>.json".
func FileName(query string, t time.Time) string {
	return fmt.Sprintf("%s at %s.json", token(query), t.Format(TimestampLayout))
}

// Save writes items as a JSON array followed by a newline and returns the
// absolute path of the file.
func (w *Writer) Save(query string, items []search.Item) (string, error) {
	if items == nil {
		items = []search.Item{}
	}
	path := filepath.Join(w.dir, FileName(query, w.now()))

	tmp, err := os.CreateTemp(w.dir, ".archive-*.json")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(items); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("write archive %q: %w", path, err)
	}

	w.logger.Info().
		Str("path", path).
		Int("items", len(items)).
		Msg("Archive written")

	return path, nil
}

// token returns the first whitespace-separated query token without path
// separators.
func token(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return defaultToken
	}
	t := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return -1
		}
		return r
	}, fields[0])
	if t == "" || t == "." || t == ".." {
		return defaultToken
	}
	return t
}
