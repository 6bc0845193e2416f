// ABOUTME: Entry point for the live-companion CLI
// ABOUTME: Runs live voice sessions and single-shot movie analysis, and manages saved records

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/live-companion/internal/config"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _ _                                                    _
 | (_)_   _____    ___ ___  _ __ ___  _ __   __ _ _ __ (_) ___  _ __
 | | \ \ / / _ \  / __/ _ \| '_ ' _ \| '_ \ / _' | '_ \| |/ _ \| '_ \
 | | |\ V /  __/ | (_| (_) | | | | | | |_) | (_| | | | | | (_) | | | |
 |_|_| \_/ \___|  \___\___/|_| |_| |_| .__/ \__,_|_| |_|_|\___/|_| |_|
                                     |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "live":
		err = runLive(ctx, args)
	case "movie":
		err = runMovie(ctx, args)
	case "records":
		err = runRecords(ctx, args)
	case "show":
		err = runShow(ctx, args)
	case "delete":
		err = runDelete(ctx, args)
	case "clear":
		err = runClear(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "settings":
		err = runSettings(ctx, args)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: live-companion <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  live                    Start a live voice session")
	fmt.Println("  movie                   Capture one frame and walk into a movie")
	fmt.Println("  records [--movies]      List saved conversations or movie results")
	fmt.Println("  show <id>               Show a saved conversation or movie result")
	fmt.Println("  delete <id>             Delete a record and its images")
	fmt.Println("  clear [--movies|--all]  Delete all conversations (or movie results)")
	fmt.Println("  export <id>             Export a conversation as Markdown or HTML")
	fmt.Println("  settings                Show image quality settings")
	fmt.Println("  settings set <k> <v>    Change an image quality setting")
	fmt.Println("  init                    Create a config file interactively")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  LIVE_COMPANION_CONFIG    Config file path (default: $XDG_CONFIG_HOME/live-companion/config.yaml)")
	fmt.Println("  LIVE_COMPANION_API_KEY   Realtime API key when the config leaves it empty")
	fmt.Println()
	yellow.Println("Signals (live):")
	fmt.Println("  SIGUSR1                  Simulate entering the background")
	fmt.Println("  SIGUSR2                  Simulate returning to the foreground")
	fmt.Println()
}

// loadConfig reads the config file, falling back to defaults when it does not exist
func loadConfig() (*config.Config, string, error) {
	path := config.Path()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), path, nil
	}
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			mu:    &sync.Mutex{},
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output on stderr. Handlers derived with
// WithAttrs or WithGroup share one mutex.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
