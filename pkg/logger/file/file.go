package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// FileLogger implements LoggerInstance by writing logfmt lines to a file
// created for a single run. Each run gets its own file, so the directory acts
// as a run-rotated log.
type FileLogger struct {
	logger *log.Logger
	file   *os.File
	path   string
}

// FileLoggerParams contains configuration for creating a FileLogger.
type FileLoggerParams struct {
	Dir      string
	Prefix   string // file name prefix, e.g. "extract"
	RunID    string
	KeepRuns int // older run files beyond this count are removed; <= 0 keeps all
	Debug    bool
}

// NewFileLogger opens <Dir>/<Prefix>-<timestamp>-<RunID>.log and prunes older
// run files with the same prefix.
func NewFileLogger(params FileLoggerParams) (*FileLogger, error) {
	if params.Dir == "" {
		params.Dir = "logs"
	}
	if params.Prefix == "" {
		params.Prefix = "run"
	}
	if err := os.MkdirAll(params.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s", params.Prefix, time.Now().UTC().Format("20060102T150405Z"))
	if params.RunID != "" {
		name += "-" + params.RunID
	}
	path := filepath.Join(params.Dir, name+".log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	if params.KeepRuns > 0 {
		pruneRuns(params.Dir, params.Prefix, path, params.KeepRuns)
	}

	level := log.InfoLevel
	if params.Debug {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(f, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
		Formatter:       log.LogfmtFormatter,
	})

	return &FileLogger{logger: logger, file: f, path: path}, nil
}

// pruneRuns removes the oldest run files so that at most keep remain,
// the current one included. Names sort chronologically by construction.
func pruneRuns(dir, prefix, current string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.log"))
	if err != nil {
		return
	}
	sort.Strings(matches)
	others := make([]string, 0, len(matches))
	for _, m := range matches {
		if m != current && strings.HasSuffix(m, ".log") {
			others = append(others, m)
		}
	}
	excess := len(others) - (keep - 1)
	for i := 0; i < excess && i < len(others); i++ {
		_ = os.Remove(others[i])
	}
}

// Path returns the file the logger writes to.
func (f *FileLogger) Path() string {
	return f.path
}

func (f *FileLogger) Log(message string, keyvals ...any) {
	f.logger.Print(message, keyvals...)
}

func (f *FileLogger) Info(message string, keyvals ...any) {
	f.logger.Info(message, keyvals...)
}

func (f *FileLogger) Warn(message string, keyvals ...any) {
	f.logger.Warn(message, keyvals...)
}

func (f *FileLogger) Error(message string, keyvals ...any) {
	f.logger.Error(message, keyvals...)
}

func (f *FileLogger) Debug(message string, keyvals ...any) {
	f.logger.Debug(message, keyvals...)
}

// Fatal writes the message, flushes the file and exits.
func (f *FileLogger) Fatal(message string, keyvals ...any) {
	f.logger.Error(message, keyvals...)
	_ = f.file.Sync()
	os.Exit(1)
}

func (f *FileLogger) Close() error {
	if err := f.file.Sync(); err != nil {
		_ = f.file.Close()
		return err
	}
	return f.file.Close()
}
