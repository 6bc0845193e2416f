// ABOUTME: Live voice session command
// ABOUTME: Streams recorded or piped audio plus camera keyframes and prints the conversation

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/live-companion/internal/capture"
	"github.com/2389/live-companion/internal/conversation"
	"github.com/2389/live-companion/internal/realtime"
	"github.com/2389/live-companion/internal/session"
)

func runLive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	audioPath := fs.String("audio", "-", "PCM16 mono 16kHz audio file, or - for stdin")
	framesPath := fs.String("frames", "", "Image file kept current by a camera process")
	category := fs.String("category", "", "Conversation category (liveAI, liveTranslate, liveChat)")
	language := fs.String("language", "", "Language tag stored with the record")
	instructions := fs.String("instructions", "", "Override the session instructions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var audio io.Reader = os.Stdin
	interactive := *audioPath != "-"
	if interactive {
		f, err := os.Open(*audioPath)
		if err != nil {
			return fmt.Errorf("opening audio: %w", err)
		}
		defer f.Close()
		audio = f
	}

	if *category == "" {
		*category = cfg.Session.Category
	}
	if *language == "" {
		*language = cfg.Session.Language
	}
	if *instructions == "" {
		*instructions = cfg.Realtime.Instructions
	}

	client := realtime.NewClient(realtime.Config{
		URL:          cfg.Realtime.URL,
		APIKey:       cfg.Realtime.APIKey,
		Model:        cfg.Realtime.Model,
		Voice:        cfg.Realtime.Voice,
		Instructions: *instructions,
	}, realtime.NewPacedSource(ctx, audio, realtime.InputBytesPerSecond), logger)
	defer client.Close()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	imagesEnabled := cfg.Session.EnableImageInput && *framesPath != ""
	orch := session.New(session.Deps{
		Transport: client,
		Records:   a.records,
		Blobs:     a.blobs,
		Settings:  a.settings,
	}, session.Options{
		EnableImageInput: imagesEnabled,
		Category:         conversation.ParseCategory(*category),
		Language:         *language,
		Model:            cfg.Realtime.Model,
		ReconnectDelay:   cfg.Session.ReconnectDelay,
		ImageUnlockDelay: cfg.Session.ImageUnlockDelay,
		Logger:           logger,
		OnError: func(msg string) {
			red.Printf("! %s\n", msg)
		},
	})

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Realtime.Model)
	green.Print("    ▶ ")
	fmt.Printf("Images:    %t\n", imagesEnabled)
	if interactive {
		green.Print("    ▶ ")
		fmt.Println("Keys:      r=record s=stop c=commit q=quit")
	}
	fmt.Println()

	// the session loop outlives runCtx so Disconnect can still save
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- orch.Run(loopCtx) }()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	if imagesEnabled {
		frames := capture.NewFileSource(*framesPath, orch.UpdateFrame, logger)
		g.Go(func() error { return frames.Run(gctx) })
	}

	lifecycle := make(chan os.Signal, 1)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(lifecycle)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-lifecycle:
				if sig == syscall.SIGUSR1 {
					orch.EnteredBackground()
				} else {
					orch.EnteringForeground()
				}
			}
		}
	})

	updates := orch.Subscribe(gctx)
	g.Go(func() error {
		printUpdates(gctx, updates)
		return nil
	})

	orch.Connect()

	if interactive {
		g.Go(func() error {
			readCommands(gctx, orch)
			stop()
			return nil
		})
	} else {
		g.Go(func() error {
			return autoRecord(gctx, orch)
		})
	}

	<-gctx.Done()
	orch.Disconnect()
	stopLoop()
	if err := g.Wait(); err != nil {
		return err
	}
	return <-loopDone
}

// autoRecord starts recording as soon as the session connects
func autoRecord(ctx context.Context, orch *session.Orchestrator) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if orch.Status().State == session.StateConnected {
				return orch.StartRecording()
			}
		}
	}
}

func readCommands(ctx context.Context, orch *session.Orchestrator) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch line {
			case "r":
				if err := orch.StartRecording(); err != nil {
					color.Red("! %v", err)
				}
			case "s":
				orch.StopRecording()
			case "c":
				if err := orch.SendMessage(); err != nil {
					color.Red("! %v", err)
				}
			case "d":
				orch.DismissError()
			case "q":
				return
			case "":
			default:
				fmt.Println("keys: r=record s=stop c=commit d=dismiss q=quit")
			}
		}
	}
}

// printUpdates prints lifecycle changes and messages as they are finalized
func printUpdates(ctx context.Context, updates <-chan session.Update) {
	yellow := color.New(color.FgYellow)
	seen := make(map[string]bool)
	for {
		var u session.Update
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			u = next
		}

		switch u.Kind {
		case session.UpdateState:
			yellow.Printf("· %s\n", u.State)
		case session.UpdateCleared:
			clear(seen)
		case session.UpdateMessage:
			m := u.Message
			label := color.GreenString("you")
			if m.Role == conversation.RoleAssistant {
				label = color.CyanString("ai ")
			}
			if seen[m.ID] {
				label = color.HiBlackString("  +")
			}
			seen[m.ID] = true
			suffix := ""
			if n := len(m.ImageAttachments); n > 0 {
				suffix = color.HiBlackString(" [%d image(s)]", n)
			}
			fmt.Printf("%s  %s%s\n", label, m.Content, suffix)
		}
	}
}
