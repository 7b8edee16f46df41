// Package logging provides structured, colorful logging for every hoster
// command, from the long-running node down to one-shot key and chain tools.
//
// Implements a unified logging interface that standardizes log output from the
// node supervisor, the command handlers and the third-party libraries embedded
// in the node (serf/memberlist gossip, the pebble block database, gin). Uses
// color-coded log levels and consistent timestamp formatting so that a node's
// lifecycle can be followed from a single stream.
//
// LOGGING FEATURES:
//   - Color-coded levels: DEBUG (purple), INFO (blue), WARN (yellow), ERROR (red), SUCCESS (green)
//   - Log interception: Membership gossip logs are reformatted through ColorfulSerfWriter
//   - Flexible output: Configurable log levels, log file redirection and output suppression
//   - Standard redirection: Routes standard library logs through the unified system
//
// OUTPUT CONVENTIONS:
// INFO and SUCCESS go to stdout, WARN, ERROR and DEBUG go to stderr. When a log
// file is configured both streams are written to it. Key commands that print
// machine-readable output call SuppressOutput so that only errors interleave
// with their result.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	stdlog "log"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	// Logger for INFO/SUCCESS messages (stdout by default)
	stdoutLogger = newLogger(os.Stdout)

	// Logger for WARN/ERROR/DEBUG messages (stderr by default)
	stderrLogger = newLogger(os.Stderr)

	// Track if logging has been explicitly configured by a command
	cliConfigured = false

	currentStdoutOutput io.Writer = os.Stdout
	currentStderrOutput io.Writer = os.Stderr

	// A single log file overrides stdout/stderr separation
	usingLogFile  = false
	logFileHandle io.Writer

	// Guards logger replacement; the loggers themselves are goroutine-safe
	configMu sync.Mutex
)

// newLogger creates a logger writing to w with the shared timestamp format and
// level styles.
func newLogger(w io.Writer) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	l.SetStyles(setupCustomStyles())
	return l
}

// setupCustomStyles creates the color scheme for log levels. The colors were
// chosen to stay readable on both light and dark terminals.
func setupCustomStyles() *log.Styles {
	styles := log.DefaultStyles()

	// DEBUG: light purple
	styles.Levels[log.DebugLevel] = lipgloss.NewStyle().
		SetString("DEBUG").
		Foreground(lipgloss.Color("#7F6DFF"))

	// INFO: light blue
	styles.Levels[log.InfoLevel] = lipgloss.NewStyle().
		SetString("INFO").
		Foreground(lipgloss.Color("#42E7FF"))

	// WARN: light yellow
	styles.Levels[log.WarnLevel] = lipgloss.NewStyle().
		SetString("WARN").
		Foreground(lipgloss.Color("#FFE763"))

	// ERROR: light red/pink
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERROR").
		Foreground(lipgloss.Color("#FF4473"))

	return styles
}

// getStdoutLoggerOutput returns the current output destination for stdout logger.
// Used by Success to respect log file redirection.
func getStdoutLoggerOutput() io.Writer {
	if usingLogFile {
		return logFileHandle
	}
	return currentStdoutOutput
}

// Info logs informational messages about node lifecycle and command progress.
func Info(format string, v ...any) {
	stdoutLogger.Info(fmt.Sprintf(format, v...))
}

// Warn logs non-critical issues that require attention, such as a failed
// resource limit adjustment or a dropped telemetry event.
func Warn(format string, v ...any) {
	stderrLogger.Warn(fmt.Sprintf(format, v...))
}

// Error logs failures. Every classified error surfaced to the operator passes
// through here before the process exits.
func Error(format string, v ...any) {
	stderrLogger.Error(fmt.Sprintf(format, v...))
}

// Success logs successful operations in green using INFO level with custom
// styling. Respects INFO level filtering.
func Success(format string, v ...any) {
	if stdoutLogger.GetLevel() > log.InfoLevel {
		return
	}

	styles := setupCustomStyles()
	styles.Levels[log.InfoLevel] = lipgloss.NewStyle().
		SetString("SUCCESS").
		Foreground(lipgloss.Color("#60F281")) // Light green

	tempLogger := log.NewWithOptions(getStdoutLoggerOutput(), log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	tempLogger.SetStyles(styles)
	tempLogger.SetLevel(stdoutLogger.GetLevel())

	tempLogger.Info(fmt.Sprintf(format, v...))
}

// Debug logs detailed debugging information for development and troubleshooting.
func Debug(format string, v ...any) {
	stderrLogger.Debug(fmt.Sprintf(format, v...))
}

// SetLevel configures the minimum logging level. Accepts DEBUG, INFO, WARN and
// ERROR; anything else falls back to INFO.
func SetLevel(level string) {
	var logLevel log.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = log.DebugLevel
	case "INFO":
		logLevel = log.InfoLevel
	case "WARN":
		logLevel = log.WarnLevel
	case "ERROR":
		logLevel = log.ErrorLevel
	default:
		logLevel = log.InfoLevel
	}

	stdoutLogger.SetLevel(logLevel)
	stderrLogger.SetLevel(logLevel)
}

// IsDebugEnabled reports whether DEBUG messages are currently emitted.
func IsDebugEnabled() bool {
	return stderrLogger.GetLevel() <= log.DebugLevel
}

// SetOutput configures the log destination. When a file is given, all levels
// are written to it. When nil, all output is suppressed.
func SetOutput(w *os.File) {
	if w == nil {
		stdoutLogger.SetLevel(log.FatalLevel + 1)
		stderrLogger.SetLevel(log.FatalLevel + 1)
		usingLogFile = false
		return
	}
	setWriters(w, w, true)
}

// setWriters replaces both loggers, keeping the current level.
func setWriters(stdout, stderr io.Writer, single bool) {
	configMu.Lock()
	defer configMu.Unlock()

	level := stdoutLogger.GetLevel()

	usingLogFile = single
	if single {
		logFileHandle = stdout
	}
	currentStdoutOutput = stdout
	currentStderrOutput = stderr

	stdoutLogger = newLogger(stdout)
	stderrLogger = newLogger(stderr)
	stdoutLogger.SetLevel(level)
	stderrLogger.SetLevel(level)
}

// UseStderr sends every level to stderr. Commands that write their result to
// stdout call it so logs never mix with the data.
func UseStderr() {
	if usingLogFile {
		return
	}
	setWriters(os.Stderr, os.Stderr, false)
}

// SuppressOutput disables INFO/WARN/DEBUG logs while keeping ERROR logs visible.
// Used by key commands whose stdout is the result.
func SuppressOutput() {
	stdoutLogger.SetLevel(log.ErrorLevel)
	stderrLogger.SetLevel(log.ErrorLevel)
	cliConfigured = true
}

// RestoreOutput restores normal logging with Unix conventions at INFO level.
func RestoreOutput() {
	setWriters(os.Stdout, os.Stderr, false)
	stdoutLogger.SetLevel(log.InfoLevel)
	stderrLogger.SetLevel(log.InfoLevel)
	cliConfigured = true
}

// IsConfiguredByCLI returns true if logging has been explicitly configured by a
// command before subsystems start.
func IsConfiguredByCLI() bool {
	return cliConfigured
}

// MarkConfigured records that the command layer owns the logging setup, so
// subsystems leave levels alone.
func MarkConfigured() {
	cliConfigured = true
}

// ============================================================================
// SERF LOG INTEGRATION - Capture and reformat gossip membership logs
// ============================================================================

// ColorfulSerfWriter captures serf and memberlist logs and routes them through
// the unified logging system with a "(network)" prefix.
type ColorfulSerfWriter struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

// NewColorfulSerfWriter creates a new writer for capturing and reformatting gossip logs.
func NewColorfulSerfWriter() *ColorfulSerfWriter {
	r, w := io.Pipe()
	csw := &ColorfulSerfWriter{
		reader: r,
		writer: w,
	}

	go csw.processLogs()

	return csw
}

// Write implements io.Writer.
func (csw *ColorfulSerfWriter) Write(p []byte) (n int, err error) {
	return csw.writer.Write(p)
}

// Close closes the writer and stops log processing.
func (csw *ColorfulSerfWriter) Close() error {
	return csw.writer.Close()
}

// serfLogRegex matches "2024/01/02 15:04:05 [LEVEL] component: message"
var serfLogRegex = regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} \[(\w+)\] (.+)$`)

// processLogs parses serf log lines and re-emits them at the matching level.
func (csw *ColorfulSerfWriter) processLogs() {
	scanner := bufio.NewScanner(csw.reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		level, message, ok := parseSerfLine(line)
		if !ok {
			Info("(network) %s", line)
			continue
		}

		switch level {
		case "DEBUG":
			Debug("(network) %s", message)
		case "INFO":
			Info("(network) %s", message)
		case "WARN", "WARNING":
			Warn("(network) %s", message)
		case "ERR", "ERROR":
			Error("(network) %s", message)
		default:
			Info("(network)[%s]: %s", level, message)
		}
	}
}

// parseSerfLine splits a serf/memberlist log line into level and message,
// dropping the redundant component prefix.
func parseSerfLine(line string) (string, string, bool) {
	matches := serfLogRegex.FindStringSubmatch(line)
	if len(matches) != 3 {
		return "", "", false
	}

	message := matches[2]
	for _, prefix := range []string{"serf: ", "memberlist: "} {
		if strings.HasPrefix(strings.ToLower(message), prefix) {
			message = strings.TrimSpace(message[len(prefix):])
			break
		}
	}
	return matches[1], message, true
}

// ============================================================================
// GENERIC LOG INTEGRATION - General purpose writers for third-party libraries
// ============================================================================

// LevelWriter forwards log lines to a specific log level with optional prefix.
// Useful for integrating third-party libraries that expect io.Writer interfaces.
type LevelWriter struct {
	level  string
	prefix string
}

// NewLevelWriter creates a writer that logs each line at the specified level with prefix.
// Valid levels: DEBUG, INFO, WARN, ERROR
func NewLevelWriter(level, prefix string) io.Writer {
	return &LevelWriter{level: strings.ToUpper(level), prefix: prefix}
}

// Write splits input into lines and logs each at the configured level.
func (w *LevelWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg := line
		if w.prefix != "" {
			msg = w.prefix + ": " + line
		}
		switch w.level {
		case "DEBUG":
			Debug("%s", msg)
		case "WARN":
			Warn("%s", msg)
		case "ERROR":
			Error("%s", msg)
		default:
			Info("%s", msg)
		}
	}
	return len(p), nil
}

// RedirectStandardLog redirects Go's standard library logger output to the provided writer.
// Passing nil discards standard log output.
func RedirectStandardLog(w io.Writer) {
	if w == nil {
		stdlog.SetOutput(io.Discard)
		return
	}
	stdlog.SetOutput(w)
}
