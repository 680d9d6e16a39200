package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kodex-auth/go-core/pkg/types"
)

// FileWriter mirrors audit records to a rotated JSON-lines file.
type FileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// FileConfig tunes audit file rotation.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

// NewFileWriter creates a rotated audit file writer.
func NewFileWriter(cfg FileConfig) (*FileWriter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	return &FileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}, nil
}

// Write appends one record as a JSON line.
func (w *FileWriter) Write(rec *types.AuditRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(rec)
}

// Close flushes and closes the underlying file.
func (w *FileWriter) Close() error {
	return w.logger.Close()
}
