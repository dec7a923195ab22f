package console

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// ConsoleLogger writes through charmbracelet/log, text by default and JSON
// when running behind a log collector.
type ConsoleLogger struct {
	*log.Logger
}

type ConsoleLoggerParams struct {
	Debug  bool
	Prefix string    // binary name shown in front of every line
	JSON   bool      // structured output for log collectors
	Out    io.Writer // defaults to stderr
}

func NewConsoleLogger(params ConsoleLoggerParams) *ConsoleLogger {
	out := params.Out
	if out == nil {
		out = os.Stderr
	}
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           log.InfoLevel,
		Prefix:          params.Prefix,
		Formatter:       log.TextFormatter,
	}
	if params.Debug {
		opts.Level = log.DebugLevel
	}
	if params.JSON {
		opts.Formatter = log.JSONFormatter
		opts.TimeFormat = time.RFC3339
	}
	return &ConsoleLogger{Logger: log.NewWithOptions(out, opts)}
}

// Log writes without a level prefix.
func (c *ConsoleLogger) Log(message string, keyvals ...any) {
	c.Print(message, keyvals...)
}

func (c *ConsoleLogger) Debug(message string, keyvals ...any) { c.Logger.Debug(message, keyvals...) }
func (c *ConsoleLogger) Info(message string, keyvals ...any)  { c.Logger.Info(message, keyvals...) }
func (c *ConsoleLogger) Warn(message string, keyvals ...any)  { c.Logger.Warn(message, keyvals...) }
func (c *ConsoleLogger) Error(message string, keyvals ...any) { c.Logger.Error(message, keyvals...) }
func (c *ConsoleLogger) Fatal(message string, keyvals ...any) { c.Logger.Fatal(message, keyvals...) }
