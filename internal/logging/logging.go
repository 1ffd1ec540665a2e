// Package logging builds the structured logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	Level   string
	File    string // appended to in addition to Out; empty for none
	Prefix  string
	Verbose bool
	Out     io.Writer // defaults to os.Stderr
}

// New returns a logger and a closer for the optional log file. The closer is
// never nil.
func New(opts Options) (*log.Logger, io.Closer, error) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, closer, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, closer, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(out, f)
		closer = f
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		closer.Close()
		return nil, nopCloser{}, err
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          opts.Prefix,
	})
	return logger, closer, nil
}

// ParseLevel maps a config level name to a log level. Empty means info.
func ParseLevel(s string) (log.Level, error) {
	if strings.TrimSpace(s) == "" {
		return log.InfoLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
