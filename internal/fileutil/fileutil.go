// Package fileutil holds the file copy and readiness helpers shared by the
// classifier and the plugin dispatcher.
package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotReady reports that a file stayed locked or unreadable for the whole
// probe window.
var ErrNotReady = errors.New("file not ready")

// CopyFile copies src over dst, creating dst's directory when needed. The data
// is written to a sibling temp file, read back and verified by size and SHA256
// against the source bytes, then renamed into place so readers never observe
// a partial copy.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("copy %s: not a regular file", src)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(tmp, io.TeeReader(in, srcHasher))
	if err != nil {
		return err
	}
	if written != info.Size() {
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	if err := verifyWritten(tmp, srcHasher.Sum(nil), written); err != nil {
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm() | 0o600); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	committed = true
	_ = os.Chtimes(dst, time.Now(), info.ModTime())
	return nil
}

// verifyWritten flushes f and re-reads it from the start, comparing its
// size and SHA256 with the bytes read from the source.
func verifyWritten(f *os.File, want []byte, size int64) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("flush copy: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind copy: %w", err)
	}
	hasher := sha256.New()
	read, err := io.Copy(hasher, f)
	if err != nil {
		return fmt.Errorf("read back copy: %w", err)
	}
	if read != size {
		return fmt.Errorf("copy size mismatch: copied %d bytes, read back %d bytes", size, read)
	}
	if !bytes.Equal(want, hasher.Sum(nil)) {
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// ProbeReadable waits until path can be opened for reading and no writer
// holds an exclusive flock on it. It tries up to attempts times with delay
// between tries and returns ErrNotReady when the window is exhausted.
func ProbeReadable(ctx context.Context, path string, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		lastErr = tryShared(path)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, os.ErrNotExist) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrNotReady, path, attempts, lastErr)
}

func tryShared(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	_ = f.Close()

	lock := flock.New(path, flock.SetFlag(os.O_RDONLY))
	ok, err := lock.TryRLock()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("exclusively locked by writer")
	}
	return lock.Unlock()
}
