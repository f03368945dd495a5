package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DestinationError reports a text log that cannot be written. It never
// affects reconciliation; the failure is reported on the system log instead.
type DestinationError struct {
	Path string
	Err  error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("cannot append to log destination %s: %v", e.Path, e.Err)
}

func (e *DestinationError) Unwrap() error {
	return e.Err
}

// CheckDestination verifies that path can be opened for appending, creating
// the file and its directory if needed.
func CheckDestination(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &DestinationError{Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &DestinationError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &DestinationError{Path: path, Err: err}
	}
	return nil
}

// SystemLogger is the host's system-level error channel (Windows event log,
// syslog). It matches kardianos/service.Logger.
type SystemLogger interface {
	Error(v ...interface{}) error
}

// fallbackSink forwards zap's internal errors, such as a failed write to the
// rotating file, to the system logger.
type fallbackSink struct {
	mu     sync.Mutex
	system SystemLogger
}

// NewFallbackSink returns a WriteSyncer suitable for zap.ErrorOutput. A nil
// system logger discards output.
func NewFallbackSink(system SystemLogger) zapcore.WriteSyncer {
	return &fallbackSink{system: system}
}

func (s *fallbackSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.system == nil {
		return len(p), nil
	}
	msg := strings.TrimRight(string(p), "\r\n")
	if err := s.system.Error(msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *fallbackSink) Sync() error {
	return nil
}
