// Package filestore keeps chat attachments on an afero filesystem.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var ErrEmptyFile = errors.New("attachment requires a name and data")

// Store writes attachments under unique names derived from the upload time
// and the original extension.
type Store struct {
	fs  afero.Fs
	now func() time.Time
}

func New(fs afero.Fs) *Store {
	return &Store{fs: fs, now: time.Now}
}

// NewOS roots the store at dir on the local disk, creating it if needed.
func NewOS(dir string) (*Store, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir %s: %w", dir, err)
	}
	return New(afero.NewBasePathFs(osFs, dir)), nil
}

// Save stores data and returns the reference clients use to fetch it,
// e.g. "20240501_120000_9f86d081.png".
func (s *Store) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || len(data) == 0 {
		return "", ErrEmptyFile
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("attachment name: %w", err)
	}
	ref := s.now().Format("20060102_150405") + "_" + hex.EncodeToString(suffix) + strings.ToLower(filepath.Ext(base))

	// rooted path: HttpFs opens "/<ref>", which a MemMapFs keys apart from "<ref>"
	path := "/" + ref

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create attachment %s: %w", ref, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("write attachment %s: %w", ref, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close attachment %s: %w", ref, err)
	}

	return ref, nil
}

// Handler serves stored attachments read-only.
func (s *Store) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(afero.NewReadOnlyFs(s.fs)).Dir("/"))
}
