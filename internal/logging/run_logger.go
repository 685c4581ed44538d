package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options configures a RunLogger
type Options struct {
	Verbose bool      // Debug level instead of info
	Dir     string    // Directory for the run log file; empty disables the file
	Console io.Writer // Defaults to stderr
}

// RunLogger manages logging for a single invocation. It owns the structured logger and the
// optional run log file that also receives the full prompt and model response.
type RunLogger struct {
	RunID  string
	Logger zerolog.Logger

	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

// New creates a RunLogger with a fresh run id
func New(opts Options) (*RunLogger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	level := zerolog.InfoLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	r := &RunLogger{
		RunID:     uuid.NewString(),
		startTime: time.Now(),
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05.000"}}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("run_%s_%s.log", time.Now().Format("20060102_150405"), r.RunID[:8])
		f, err := os.Create(filepath.Join(opts.Dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		r.logFile = f
		writers = append(writers, f)
	}

	r.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("run_id", r.RunID).
		Logger()
	return r, nil
}

// Nop returns a RunLogger that discards everything, for tests
func Nop() *RunLogger {
	return &RunLogger{RunID: "test", Logger: zerolog.Nop(), startTime: time.Now()}
}

// WithContext stores the logger in ctx so that zerolog.Ctx(ctx) finds it
func (r *RunLogger) WithContext(ctx context.Context) context.Context {
	return r.Logger.WithContext(ctx)
}

// LogSection writes a section header to the run log file only
func (r *RunLogger) LogSection(title string) {
	r.writeFile("\n%s\n%s\n%s\n", strings.Repeat("=", 80), title, strings.Repeat("=", 80))
}

// LogRequest records the full prompt sent to the model
func (r *RunLogger) LogRequest(model, system, user string) {
	r.Logger.Debug().Str("model", model).Int("system_bytes", len(system)).Int("user_bytes", len(user)).Msg("Sending completion request")
	r.LogSection("COMPLETION REQUEST (" + model + ")")
	r.writeFile("--- SYSTEM ---\n%s\n--- USER ---\n%s\n", system, user)
}

// LogResponse records the raw model response
func (r *RunLogger) LogResponse(response string) {
	r.Logger.Debug().Int("bytes", len(response)).Msg("Received completion response")
	r.LogSection("COMPLETION RESPONSE")
	r.writeFile("%s\n", response)
}

// Close writes the footer and closes the log file
func (r *RunLogger) Close() {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, "\nrun %s finished after %v\n", r.RunID, time.Since(r.startTime).Round(time.Millisecond))
	r.logFile.Close()
	r.logFile = nil
}

// FilePath returns the path of the run log file, or "" when there is none
func (r *RunLogger) FilePath() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.logFile == nil {
		return ""
	}
	return r.logFile.Name()
}

func (r *RunLogger) writeFile(format string, args ...interface{}) {
	if r == nil {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, format, args...)
	r.logFile.Sync()
}
