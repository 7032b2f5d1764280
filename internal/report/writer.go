package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const fileStampLayout = "2006-01-02_15-04-05"

// Writer persists report documents as timestamped JSON files.
type Writer struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// NewWriter constructs a Writer rooted at dir.
func NewWriter(dir string, now func() time.Time, logger zerolog.Logger) *Writer {
	if dir == "" {
		dir = "."
	}
	if now == nil {
		now = time.Now
	}
	return &Writer{dir: dir, now: now, logger: logger.With().Str("component", "writer").Logger()}
}

// Write stores doc as <dir>/<name>_<YYYY-MM-DD_HH-MM-SS>.json with a
// top-level timestamp field and returns the path written. doc must encode
// as a JSON object.
func (w *Writer) Write(name string, doc any) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", name, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("report %s is not a json object: %w", name, err)
	}

	stamp := w.now().UTC()
	ts, err := json.Marshal(stamp.Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	fields["timestamp"] = ts

	out, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", name, err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", name, stamp.Format(fileStampLayout)))
	tmp, err := os.CreateTemp(w.dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}

	w.logger.Info().Str("report", name).Str("path", path).Msg("report written")
	return path, nil
}
