// Package history maintains the append-only NDJSON log of scraped records
// and decides which of today's items are new.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/oakhurst/inf-report-bot/internal/models"
)

// Log is the append-only history file: one JSON item record per line.
// Existing lines are never rewritten; duplicate entries across runs are
// tolerated and filtered at read time.
type Log struct {
	fs   afero.Fs
	path string
}

func NewLog(fs afero.Fs, path string) *Log {
	return &Log{fs: fs, path: path}
}

func (l *Log) Path() string { return l.path }

// SeenSKUs returns the skus already recorded for date. A missing log file
// means an empty history; corrupt lines are skipped with a warning.
func (l *Log) SeenSKUs(date string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	err := l.scan(func(rec models.ItemRecord) {
		if rec.Date == date {
			seen[rec.SKU] = struct{}{}
		}
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// Records reads the whole log in order, skipping corrupt lines.
func (l *Log) Records() ([]models.ItemRecord, error) {
	var records []models.ItemRecord
	err := l.scan(func(rec models.ItemRecord) {
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (l *Log) scan(fn func(models.ItemRecord)) error {
	f, err := l.fs.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open history log %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec models.ItemRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("Skipping corrupt history line", "path", l.path, "line", lineNum, "error", err)
			continue
		}
		fn(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read history log %s: %w", l.path, err)
	}
	return nil
}

// Append writes records to the log, one line each, in input order. The whole
// batch is buffered into a single O_APPEND write so an interrupted run never
// leaves a partial batch behind.
func (l *Log) Append(records []models.ItemRecord) error {
	if len(records) == 0 {
		return nil
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := l.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	var buf bytes.Buffer
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s/%s: %w", rec.Date, rec.SKU, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history log for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to history log: %w", err)
	}
	return nil
}

// FilterNew returns the records whose sku is not in seen, preserving input
// order. It is pure: calling it twice on the same inputs yields the same
// result.
func FilterNew(records []models.ItemRecord, seen map[string]struct{}) []models.ItemRecord {
	var fresh []models.ItemRecord
	for _, rec := range records {
		if _, ok := seen[rec.SKU]; ok {
			continue
		}
		fresh = append(fresh, rec)
	}
	return fresh
}
