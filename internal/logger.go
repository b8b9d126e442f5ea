package internal

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// SecureLogger writes leveled log lines and scrubs account secrets from them
type SecureLogger struct {
	mu        sync.RWMutex
	logger    *log.Logger
	level     LogLevel
	debug     bool
	quiet     bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// CookieRedactor redacts session cookie values and auth headers
type CookieRedactor struct{}

var cookiePatterns = []string{
	"BDUSS=",
	"STOKEN=",
	"BDCLND=",
	"Cookie:",
	"Authorization:",
	"Bearer ",
}

func (r *CookieRedactor) Redact(input string) string {
	result := input
	for _, pattern := range cookiePatterns {
		result = redactAfter(result, pattern, " ;\n\r")
	}
	return result
}

// URLRedactor redacts sensitive query and form parameters
type URLRedactor struct{}

var sensitiveParams = []string{
	"access_token=",
	"refresh_token=",
	"client_secret=",
	"randsk=",
	"pwd=",
	"cookie=",
}

func (r *URLRedactor) Redact(input string) string {
	result := input
	for _, param := range sensitiveParams {
		result = redactAfter(result, param, "& \n")
	}
	return result
}

// ValueRedactor masks known secret values wherever they appear, such as a
// configured client secret echoed back in an upstream error.
type ValueRedactor struct {
	values []string
}

// NewValueRedactor returns a redactor for the non-empty values
func NewValueRedactor(values ...string) *ValueRedactor {
	r := &ValueRedactor{}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			r.values = append(r.values, v)
		}
	}
	return r
}

func (r *ValueRedactor) Redact(input string) string {
	for _, v := range r.values {
		input = strings.ReplaceAll(input, v, "[REDACTED]")
	}
	return input
}

// redactAfter replaces every value following pattern (case-insensitive) up to
// the first byte in stop with [REDACTED].
func redactAfter(input, pattern, stop string) string {
	lowerPattern := strings.ToLower(pattern)
	var b strings.Builder
	rest := input
	for {
		index := strings.Index(strings.ToLower(rest), lowerPattern)
		if index == -1 {
			b.WriteString(rest)
			return b.String()
		}
		start := index + len(pattern)
		end := start
		for end < len(rest) && !strings.ContainsRune(stop, rune(rest[end])) {
			end++
		}
		b.WriteString(rest[:start])
		if end > start {
			b.WriteString("[REDACTED]")
		}
		rest = rest[end:]
	}
}

// NewSecureLogger creates a new secure logger
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	return &SecureLogger{
		logger: log.New(output, "", 0),
		level:  level,
		debug:  debug,
		quiet:  quiet,
		redactors: []Redactor{
			&CookieRedactor{},
			&URLRedactor{},
		},
	}
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}
	if quiet {
		level = LogLevelError
	}

	return NewSecureLogger(os.Stderr, level, debug, quiet)
}

func (sl *SecureLogger) redactSensitiveData(input string) string {
	sl.mu.RLock()
	redactors := sl.redactors
	sl.mu.RUnlock()

	result := input
	for _, redactor := range redactors {
		result = redactor.Redact(result)
	}
	return result
}

func (sl *SecureLogger) formatMessage(level LogLevel, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	sl.mu.RLock()
	debug := sl.debug
	sl.mu.RUnlock()

	if debug {
		for depth := 3; depth <= 5; depth++ {
			_, file, line, ok := runtime.Caller(depth)
			if ok && !strings.HasSuffix(file, "logger.go") && !strings.HasSuffix(file, "log.go") {
				parts := strings.Split(file, "/")
				filename := parts[len(parts)-1]
				return fmt.Sprintf("[%s] %s %s:%d %s", timestamp, level.String(), filename, line, message)
			}
		}
	}

	return fmt.Sprintf("[%s] %s %s", timestamp, level.String(), message)
}

func (sl *SecureLogger) shouldLog(level LogLevel) bool {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	if sl.quiet && level > LogLevelError {
		return false
	}
	return level <= sl.level
}

func (sl *SecureLogger) write(level LogLevel, format string, args ...interface{}) {
	if !sl.shouldLog(level) {
		return
	}

	message := sl.redactSensitiveData(fmt.Sprintf(format, args...))
	sl.logger.Print(sl.formatMessage(level, message))
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.write(LogLevelError, format, args...)
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.write(LogLevelWarn, format, args...)
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.write(LogLevelInfo, format, args...)
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.write(LogLevelDebug, format, args...)
}

// LogHTTPRequest logs an outgoing upstream request with secrets redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, req.URL.String(), sl.sanitizeHeaders(req.Header))
}

// LogHTTPResponse logs an upstream response status and headers
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sl.Debug("HTTP Response: %d %s Headers: %v", resp.StatusCode, resp.Status, sl.sanitizeHeaders(resp.Header))
}

func (sl *SecureLogger) sanitizeHeaders(header http.Header) map[string]string {
	sanitized := make(map[string]string, len(header))
	for name, values := range header {
		if isSensitiveHeader(name) {
			sanitized[name] = "[REDACTED]"
		} else {
			sanitized[name] = strings.Join(values, ", ")
		}
	}
	return sanitized
}

// Location headers carry signed play urls, so they count as sensitive too.
var sensitiveHeaders = []string{
	"authorization",
	"cookie",
	"set-cookie",
	"location",
	"x-auth-token",
	"token",
}

func isSensitiveHeader(name string) bool {
	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SetLevel sets the logging level
func (sl *SecureLogger) SetLevel(level LogLevel) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.level = level
}

// SetDebug enables or disables debug mode
func (sl *SecureLogger) SetDebug(debug bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.debug = debug
	if debug && sl.level < LogLevelDebug {
		sl.level = LogLevelDebug
	}
}

// SetQuiet enables or disables quiet mode
func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.quiet = quiet
	if quiet {
		sl.level = LogLevelError
	}
}

// AddRedactor adds a custom redactor
func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.redactors = append(sl.redactors, redactor)
}
