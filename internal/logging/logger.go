package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 1000

// Config selects the global level, the output format and per-module levels.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// registry holds every module logger so levels can change at runtime.
type registry struct {
	mu       sync.RWMutex
	cfg      Config
	ready    bool
	modules  map[string]*moduleLogger
	buffer   *RingBuffer
	callback LogCallback
}

var reg = &registry{modules: make(map[string]*moduleLogger)}

// levelFor resolves a module's level from cfg, defaulting to info.
func (r *registry) levelFor(module string) slog.Level {
	level := slog.LevelInfo
	if !r.ready {
		return level
	}
	if l, ok := parseLevel(r.cfg.Level); ok {
		level = l
	}
	if l, ok := parseLevel(r.cfg.Modules[module]); ok {
		level = l
	}
	return level
}

func (r *registry) format() string {
	if r.ready {
		return r.cfg.Format
	}
	return "text"
}

// Initialize applies config. Loggers handed out earlier keep working and
// pick up their new level.
func Initialize(config Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.cfg = config
	reg.ready = true
	reg.buffer = NewRingBuffer(historySize)

	for name, m := range reg.modules {
		m.level.Set(reg.levelFor(name))
		m.logger = slog.New(newHandler(config.Format, m.level)).With("module", name)
	}

	root := &slog.LevelVar{}
	root.Set(reg.levelFor(""))
	slog.SetDefault(slog.New(newHandler(config.Format, root)))
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	reg.mu.RLock()
	m, ok := reg.modules[module]
	reg.mu.RUnlock()
	if ok {
		return m.logger
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if m, ok := reg.modules[module]; ok {
		return m.logger
	}

	level := &slog.LevelVar{}
	level.Set(reg.levelFor(module))
	m = &moduleLogger{
		logger: slog.New(newHandler(reg.format(), level)).With("module", module),
		level:  level,
	}
	reg.modules[module] = m
	return m.logger
}

// SetModuleLevel changes one module's level at runtime. It reports false
// for an unknown level name.
func SetModuleLevel(module, level string) bool {
	l, ok := parseLevel(level)
	if !ok {
		return false
	}
	GetLogger(module)

	reg.mu.RLock()
	reg.modules[module].level.Set(l)
	reg.mu.RUnlock()
	return true
}

// GetBuffer returns the recent log history, or nil before Initialize.
func GetBuffer() *RingBuffer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buffer
}

// SetLogCallback registers a function called with every new entry. The
// server uses it to stream log lines to SSE clients.
func SetLogCallback(callback LogCallback) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.callback = callback
}

func sinks() (*RingBuffer, LogCallback) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.buffer, reg.callback
}

// newHandler fans out to stdout when something is attached to it, to the
// journal when running under systemd, and always to the history buffer.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var console slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		console = slog.NewJSONHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if stdoutAttached() {
		handlers = append(handlers, console)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// stdoutAttached reports whether stdout is open on a terminal, pipe, socket
// or file.
func stdoutAttached() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode.IsRegular() || mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
