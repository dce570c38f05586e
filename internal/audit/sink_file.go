package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink appends newline-delimited JSON records to a file. This is the
// default sink the core ships.
type FileSink struct {
	f *os.File
}

// NewFileSink opens (or creates) the audit log file for appending.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.f.Write(append(data, '\n'))
	return err
}

func (s *FileSink) Close() error { return s.f.Close() }
