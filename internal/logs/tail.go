package logs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const maxLineBytes = 1024 * 1024

// TailOptions selects which lines Tail returns.
type TailOptions struct {
	// Limit is the number of trailing lines. Zero returns no lines and only
	// the end offset.
	Limit int
	// Match keeps only lines containing the substring, compared
	// case-insensitively.
	Match string
}

// TailResult holds the selected lines and the offset just past the last byte
// read.
type TailResult struct {
	Path   string
	Lines  []string
	Offset int64
}

// Resolve follows the log pointer symlink, if any, to the file being written.
func Resolve(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// Tail returns the last opts.Limit matching lines of path. A missing file
// yields an empty result.
func Tail(path string, opts TailOptions) (TailResult, error) {
	resolved, err := Resolve(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{Path: path}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("resolve log file: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}

	lines, offset, err := readLastLines(resolved, opts.Limit, newMatcher(opts.Match))
	if err != nil {
		return TailResult{}, err
	}
	return TailResult{Path: resolved, Lines: lines, Offset: offset}, nil
}

func newMatcher(match string) func(string) bool {
	match = strings.ToLower(strings.TrimSpace(match))
	if match == "" {
		return func(string) bool { return true }
	}
	return func(line string) bool {
		return strings.Contains(strings.ToLower(line), match)
	}
}

func readLastLines(path string, limit int, keep func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, offset, nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	ring := make([]string, limit)
	count := 0
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if !keep(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// readForward returns complete lines written after offset. A trailing partial
// line is left for the next call.
func readForward(path string, offset int64, keep func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		chunk, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return lines, offset, nil
		}
		if err != nil {
			return lines, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(chunk))
		line := strings.TrimRight(chunk, "\r\n")
		if keep(line) {
			lines = append(lines, line)
		}
	}
}
