// ABOUTME: Settings command: show and change image quality settings
// ABOUTME: Values are clamped before they are persisted

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/2389/live-companion/internal/settings"
)

func runSettings(ctx context.Context, args []string) error {
	return withApp(ctx, func(a *app) error {
		if len(args) == 0 || args[0] == "show" {
			printQuality(a.settings.Current())
			return nil
		}
		if args[0] != "set" || len(args) != 3 {
			return fmt.Errorf("usage: live-companion settings [show | set <key> <value>]")
		}

		q, err := a.settings.Set(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		color.Green("✓ Updated %s", args[1])
		printQuality(q)
		return nil
	})
}

func printQuality(q settings.Quality) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Println("Image quality")
	fmt.Printf("  preview_resolution  %s\n", q.PreviewResolution)
	fmt.Printf("  max_dimension       %d\n", q.MaxDimension)
	fmt.Printf("  quality             %.2f\n", q.ImageQuality)
	fmt.Printf("  keyframes           %d\n", q.KeyFrameCount)
	gray.Println("  max_dimension: 512, 768, 1024 · quality: 0.6-0.9 · keyframes: 1-3")
}
