// Package local implements a filesystem-backed Sink: writes go to a
// temporary file which is fsynced and renamed into place on Finalize,
// mirroring restic's local backend Save and the original file sink's
// seek+write+flush.
package local

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/zarrstream/zarrstream/internal/debug"
	"github.com/zarrstream/zarrstream/internal/errors"
)

// var so tests can stub it out, mirroring restic local.go's `tempFile`.
var tempFile = os.CreateTemp

// Sink writes at explicit offsets to a temporary file in the same
// directory as its final path, renaming into place on Finalize.
type Sink struct {
	finalName string
	dirMode   os.FileMode
	fileMode  os.FileMode

	mu       sync.Mutex
	f        *os.File
	tmpName  string
	finished bool
}

// New creates the parent directory of finalName (if missing) and opens a
// temp file sink for it. dirMode/fileMode mirror restic's util.Modes.
func New(finalName string, dirMode, fileMode os.FileMode) (*Sink, error) {
	dir := filepath.Dir(finalName)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, errors.Wrap(err, "local sink: create parent directory")
	}

	tmpPrefix := filepath.Base(finalName) + "-tmp-" + uuid.NewString()[:8] + "-"
	f, err := tempFile(dir, tmpPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "local sink: create temp file")
	}
	if err := f.Chmod(fileMode); err != nil {
		debug.Log("local sink: chmod temp file %v: %v", f.Name(), err)
	}

	return &Sink{
		finalName: finalName,
		dirMode:   dirMode,
		fileMode:  fileMode,
		f:         f,
		tmpName:   f.Name(),
	}, nil
}

// Write writes data at offset via WriteAt, matching the original file
// sink's seekp + write.
func (s *Sink) Write(_ context.Context, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return errors.Fatal("local sink: write after finalize")
	}

	_, err := s.f.WriteAt(data, offset)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) || os.IsPermission(err) {
			err = backoff.Permanent(err)
		}
		return errors.Wrap(err, "local sink: write")
	}
	return nil
}

// Finalize fsyncs the temp file, closes it, and renames it into place.
func (s *Sink) Finalize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return errors.Fatal("local sink: finalize called twice")
	}
	s.finished = true

	if err := s.f.Sync(); err != nil && !errors.Is(err, syscall.ENOTSUP) {
		_ = s.f.Close()
		_ = os.Remove(s.tmpName)
		return errors.Wrap(err, "local sink: sync")
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.tmpName)
		return errors.Wrap(err, "local sink: close")
	}
	if err := os.Rename(s.tmpName, s.finalName); err != nil {
		return errors.Wrap(err, "local sink: rename")
	}

	return fsyncDir(filepath.Dir(s.finalName))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "local sink: open dir for fsync")
	}
	defer func() { _ = d.Close() }()

	if err := d.Sync(); err != nil && !errors.Is(err, syscall.ENOTSUP) && !errors.Is(err, syscall.EINVAL) {
		return errors.Wrap(err, "local sink: fsync dir")
	}
	return nil
}
