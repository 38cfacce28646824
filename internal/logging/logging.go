package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the rotating log file written under the log directory.
const FileName = "esg-mcp.log"

// Options controls where and how much the server logs.
type Options struct {
	Verbose bool
	// Level overrides Verbose when set (trace, debug, info, warn, error).
	Level string
	// Dir overrides LOGS_FOLDER and the default <binary dir>/logs.
	Dir string
	// Console is the stderr sink. Nil means os.Stderr.
	Console io.Writer
}

// Init installs the global logger with a console sink and a rotating file.
// Stdout is never written to, it carries the MCP stdio transport.
func Init(opts Options) error {
	// 1. .env next to the binary, since Init runs before config.Load
	exePath, exeErr := os.Executable()
	if exeErr == nil {
		_ = godotenv.Load(filepath.Join(filepath.Dir(exePath), ".env"))
	}

	// 2. Level
	level, err := resolveLevel(opts)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	// 3. Console
	console := opts.Console
	noColor := true
	if console == nil {
		console = os.Stderr
		noColor = !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd())
	}
	consoleWriter := zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339, NoColor: noColor}

	// 4. Rotating file
	dir := opts.Dir
	if dir == "" {
		dir = os.Getenv("LOGS_FOLDER")
	}
	if dir == "" {
		dir = "logs"
		if exeErr == nil {
			dir = filepath.Join(filepath.Dir(exePath), "logs")
		}
	}
	if err := ensureWritable(dir); err != nil {
		return err
	}
	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(dir, FileName),
		MaxSize:    16, // megabytes
		MaxBackups: 16,
		MaxAge:     90, // days
		Compress:   true,
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(consoleWriter, fileWriter)).
		With().
		Timestamp().
		Str("service", "esg-mcp").
		Logger()
	return nil
}

func resolveLevel(opts Options) (zerolog.Level, error) {
	name := opts.Level
	if name == "" {
		name = os.Getenv("ESG_LOG_LEVEL")
	}
	if name == "" {
		if opts.Verbose {
			return zerolog.DebugLevel, nil
		}
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	probe := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(probe, []byte("test"), 0644); err != nil {
		return fmt.Errorf("log directory %q is not writable: %w", dir, err)
	}
	_ = os.Remove(probe)
	return nil
}
