package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nhle/jira-transitions/internal/model"
)

// StdoutPath selects standard output as the CSV destination.
const StdoutPath = "-"

// CSVWriter streams transition rows into a temporary file next to the
// destination and renames it over the destination on Commit, so a failed
// run never leaves a truncated file behind.
type CSVWriter struct {
	path    string
	tmpPath string
	file    *os.File
	w       *csv.Writer
	rows    int
	done    bool
}

// NewCSVWriter prepares a CSV export to path, overwriting any existing file
// on Commit. It fails immediately when path cannot be written.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if path == StdoutPath {
		return newCSVWriter(os.Stdout, nil, "", "")
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("output %s is a directory", path)
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating output %s: %w", path, err)
	}

	return newCSVWriter(f, f, f.Name(), path)
}

// NewCSVStream writes CSV rows directly to w. Commit only flushes.
func NewCSVStream(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(w, nil, "", "")
}

func newCSVWriter(w io.Writer, file *os.File, tmpPath, path string) (*CSVWriter, error) {
	cw := &CSVWriter{
		path:    path,
		tmpPath: tmpPath,
		file:    file,
		w:       csv.NewWriter(w),
	}
	if err := cw.w.Write(Header); err != nil {
		cw.Abort()
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	return cw, nil
}

// Write appends one row per transition of seq.
func (c *CSVWriter) Write(_ context.Context, seq model.Sequence) error {
	if c.done {
		return errors.New("csv writer already closed")
	}
	for _, t := range seq.Transitions {
		if err := c.w.Write(Record(t)); err != nil {
			return fmt.Errorf("writing row for %s: %w", t.IssueKey, err)
		}
		c.rows++
	}
	return nil
}

// Rows returns the number of transition rows written so far.
func (c *CSVWriter) Rows() int {
	return c.rows
}

// Commit flushes the rows and moves the file into place.
func (c *CSVWriter) Commit(context.Context) error {
	if c.done {
		return nil
	}
	c.done = true

	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.cleanup()
		return fmt.Errorf("flushing CSV: %w", err)
	}

	if c.file == nil {
		return nil
	}

	if err := c.file.Chmod(0o644); err != nil {
		c.cleanup()
		return fmt.Errorf("setting permissions on %s: %w", c.path, err)
	}
	if err := c.file.Close(); err != nil {
		c.cleanup()
		return fmt.Errorf("closing %s: %w", c.tmpPath, err)
	}
	if err := os.Rename(c.tmpPath, c.path); err != nil {
		os.Remove(c.tmpPath)
		return fmt.Errorf("replacing %s: %w", c.path, err)
	}
	return nil
}

// Abort discards the temporary file.
func (c *CSVWriter) Abort() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.cleanup()
}

func (c *CSVWriter) cleanup() error {
	if c.file == nil {
		return nil
	}
	c.file.Close()
	if err := os.Remove(c.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", c.tmpPath, err)
	}
	return nil
}
