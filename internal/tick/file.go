package tick

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Handler consumes ticks in log order.
type Handler func(Tick) error

// Walk streams the tick log at path into fn. It returns the number of ticks
// delivered. A malformed line aborts the walk with ErrSchema; a missing file
// yields ErrNoHistory and zero ticks.
func Walk(ctx context.Context, path string, fn Handler) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNoHistory, path)
		}
		return 0, fmt.Errorf("open tick log: %w", err)
	}
	defer f.Close()
	return WalkReader(ctx, f, fn)
}

// WalkReader is Walk over an arbitrary reader.
func WalkReader(ctx context.Context, r io.Reader, fn Handler) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	n := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		t, err := Parse(line)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(t); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scan tick log: %w", err)
	}
	return n, nil
}

// LastID returns the id of the final non-empty line of the log at path.
// ok is false when the file is missing or empty.
func LastID(path string) (id uint64, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open tick log: %w", err)
	}
	defer f.Close()

	line, err := lastLine(f)
	if err != nil {
		return 0, false, err
	}
	if line == "" {
		return 0, false, nil
	}
	head, _, _ := strings.Cut(line, ";")
	id, err = strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: last line id %q", ErrSchema, head)
	}
	return id, true, nil
}

// lastLine reads backwards from the end of f in fixed blocks until a complete
// non-empty trailing line is found.
func lastLine(f *os.File) (string, error) {
	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat tick log: %w", err)
	}
	const block = 4096
	size := st.Size()
	var tail []byte
	for off := size; off > 0; {
		n := int64(block)
		if off < n {
			n = off
		}
		off -= n
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, off); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read tick log: %w", err)
		}
		tail = append(buf, tail...)
		trimmed := bytes.TrimRight(tail, "\r\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return string(trimmed[i+1:]), nil
		}
		if off == 0 {
			return string(trimmed), nil
		}
	}
	return "", nil
}

// Appender writes ticks to the end of a log file.
type Appender struct {
	f *os.File
	w *bufio.Writer
}

// OpenAppender opens path for appending, creating it when missing.
func OpenAppender(path string) (*Appender, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tick log for append: %w", err)
	}
	return &Appender{f: f, w: bufio.NewWriterSize(f, 256*1024)}, nil
}

// Append writes a page of ticks and flushes it to the file.
func (a *Appender) Append(ticks []Tick) error {
	if _, err := a.w.Write(FormatLines(ticks)); err != nil {
		return fmt.Errorf("write ticks: %w", err)
	}
	return a.w.Flush()
}

// Close flushes and closes the file.
func (a *Appender) Close() error {
	if a == nil || a.f == nil {
		return nil
	}
	if err := a.w.Flush(); err != nil {
		_ = a.f.Close()
		return err
	}
	return a.f.Close()
}
