package sinks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chanaliuxing/dirtyapply/pkg/log"
)

// FileSink writes one JSON object per line to a per-run log file. Lines are
// buffered; Close flushes and syncs so a finished run always has a complete
// trail on disk.
type FileSink struct {
	file *os.File
	w    *bufio.Writer
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening run log %q: %w", path, err)
	}
	return &FileSink{file: f, w: bufio.NewWriter(f)}, nil
}

func (fs *FileSink) Write(event *log.LogEvent) error {
	entry := make(map[string]any, len(event.Fields)+3)
	for k, v := range event.Fields {
		entry[k] = v
	}
	entry["level"] = levelToString(event.Level)
	entry["time"] = event.Timestamp
	entry["message"] = event.Message

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log event for file sink: %w", err)
	}
	if _, err := fs.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to file sink: %w", err)
	}
	return nil
}

func (fs *FileSink) Close() error {
	if fs.file == nil {
		return nil
	}
	if err := fs.w.Flush(); err != nil {
		return err
	}
	if err := fs.file.Sync(); err != nil {
		return err
	}
	return fs.file.Close()
}
