package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileRecorder appends records as JSON lines. Appends are serialized so
// concurrent plans sharing a trail file do not interleave partial lines.
type FileRecorder struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail %q: %w", path, err)
	}
	return &FileRecorder{file: f}, nil
}

func (fr *FileRecorder) Append(rec Record) error {
	data, err := json.Marshal(rec.Stamp())
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, err := fr.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

func (fr *FileRecorder) Close() error {
	if fr.file != nil {
		return fr.file.Close()
	}
	return nil
}
