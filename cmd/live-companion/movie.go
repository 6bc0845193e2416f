// ABOUTME: Single-shot "walk into a movie" command
// ABOUTME: Captures one frame, streams the reply, and saves the result with its image

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/live-companion/internal/capture"
	"github.com/2389/live-companion/internal/movie"
	"github.com/2389/live-companion/internal/realtime"
)

func runMovie(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("movie", flag.ContinueOnError)
	framesPath := fs.String("frames", "", "Image file kept current by a camera process (required)")
	timeout := fs.Duration("timeout", 90*time.Second, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *framesPath == "" {
		return fmt.Errorf("--frames is required")
	}

	cfg, _, err := loadConfig()
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

	client := realtime.NewClient(realtime.Config{
		URL:          cfg.Realtime.URL,
		APIKey:       cfg.Realtime.APIKey,
		Model:        cfg.Realtime.Model,
		Voice:        cfg.Realtime.Voice,
		Instructions: movie.Prompt,
	}, nil, logger)
	defer client.Close()

	frames := capture.NewFileSource(*framesPath, nil, logger)

	gray := color.New(color.FgHiBlack)
	updates := make(chan movie.Snapshot, 64)
	flow := movie.New(movie.Deps{
		Transport:   client,
		StreamReady: frames.Ready,
		Frames:      frames.Latest,
		Blobs:       a.blobs,
		Records:     a.movies,
		Settings:    a.settings,
	}, movie.Options{
		Logger: logger,
		OnUpdate: func(s movie.Snapshot) {
			select {
			case updates <- s:
			default:
			}
		},
	})

	runCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return flow.Run(gctx) })
	g.Go(func() error { return frames.Run(gctx) })

	flow.Start()

	// updates may drop under load; the ticker catches a missed final snapshot
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var final movie.Snapshot
	lastPhase := movie.PhaseIdle
wait:
	for {
		var s movie.Snapshot
		select {
		case <-gctx.Done():
			break wait
		case s = <-updates:
		case <-ticker.C:
			s = flow.Snapshot()
		}
		if s.Phase != lastPhase {
			gray.Printf("· %s\n", s.Phase)
			lastPhase = s.Phase
		}
		if s.Phase.Done() {
			final = s
			break wait
		}
	}

	flow.Stop()
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}

	switch {
	case final.Phase == movie.PhaseError:
		return fmt.Errorf("walk into movie: %w", final.Err)
	case final.Phase != movie.PhaseResult:
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("walk into movie: timed out after %s", *timeout)
		}
		return runCtx.Err()
	}

	fmt.Println()
	color.New(color.FgCyan, color.Bold).Println(final.Result.Headline)
	if final.Result.Narration != "" {
		fmt.Println(final.Result.Narration)
	}
	if final.RecordID != "" {
		gray.Printf("\nsaved as %s\n", final.RecordID)
	}
	return nil
}
