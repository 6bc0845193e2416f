// ABOUTME: Record management commands: list, show, delete, clear, export
// ABOUTME: Works on both saved conversations and movie results

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/renameio/v2"

	"github.com/2389/live-companion/internal/conversation"
)

func runRecords(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	movies := fs.Bool("movies", false, "List movie results instead of conversations")
	limit := fs.Int("limit", 20, "Maximum records to show")
	offset := fs.Int("offset", 0, "Records to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withApp(ctx, func(a *app) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		now := time.Now()

		if *movies {
			all := a.movies.LoadAll(ctx)
			if len(all) == 0 {
				fmt.Println("No movie results.")
				return nil
			}
			fmt.Fprintln(w, "ID\tDATE\tHEADLINE\tIMAGE")
			for _, r := range page(all, *limit, *offset) {
				image := "-"
				if r.ImageAttachment != nil {
					image = r.ImageAttachment.FileName
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Timestamp.Local().Format("01-02 15:04"), r.Headline, image)
			}
			return nil
		}

		records := a.records.LoadPage(ctx, *limit, *offset)
		if len(records) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		fmt.Fprintln(w, "ID\tDATE\tCATEGORY\tMESSAGES\tTITLE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.FormattedDate(now), r.Category, r.MessageCount(), r.Title())
		}
		return nil
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[max(offset, 0):]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func runShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: live-companion show <id>")
	}
	id := args[0]

	return withApp(ctx, func(a *app) error {
		cyan := color.New(color.FgCyan)
		gray := color.New(color.FgHiBlack)

		record, err := a.records.Get(ctx, id)
		if err == nil {
			cyan.Println(record.Title())
			gray.Printf("%s · %s · %s · %s\n\n", record.FormattedDate(time.Now()), record.Category, record.Language, record.AIModel)
			for _, m := range record.Messages {
				label := color.GreenString("you")
				if m.Role == conversation.RoleAssistant {
					label = color.CyanString("ai ")
				}
				fmt.Printf("%s  %s\n", label, m.Content)
				for _, att := range m.ImageAttachments {
					path, err := a.blobs.Path(att.FileName)
					if err == nil {
						gray.Printf("     [image] %s\n", path)
					}
				}
			}
			return nil
		}
		if !errors.Is(err, conversation.ErrNotFound) {
			return err
		}

		movie, err := a.movies.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		cyan.Println(movie.Headline)
		if movie.Narration != "" {
			fmt.Println(movie.Narration)
		}
		gray.Printf("\n%s\n", movie.Timestamp.Local().Format("2006-01-02 15:04"))
		if movie.ImageAttachment != nil {
			if path, err := a.blobs.Path(movie.ImageAttachment.FileName); err == nil {
				gray.Printf("[image] %s\n", path)
			}
		}
		return nil
	})
}

func runDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: live-companion delete <id>")
	}
	id := args[0]

	return withApp(ctx, func(a *app) error {
		err := a.records.Delete(ctx, id)
		if errors.Is(err, conversation.ErrNotFound) {
			err = a.movies.Delete(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
		color.Green("✓ Deleted %s", id)
		return nil
	})
}

func runClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	movies := fs.Bool("movies", false, "Clear movie results instead of conversations")
	all := fs.Bool("all", false, "Clear conversations and movie results")
	yes := fs.Bool("yes", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	what := "all conversations"
	switch {
	case *all:
		what = "all conversations and movie results"
	case *movies:
		what = "all movie results"
	}
	if !*yes && !confirm(fmt.Sprintf("Delete %s and their images?", what)) {
		fmt.Println("Aborted.")
		return nil
	}

	return withApp(ctx, func(a *app) error {
		if *all || !*movies {
			if err := a.records.DeleteAll(ctx); err != nil {
				return fmt.Errorf("clearing conversations: %w", err)
			}
		}
		if *all || *movies {
			if err := a.movies.DeleteAll(ctx); err != nil {
				return fmt.Errorf("clearing movie results: %w", err)
			}
		}
		color.Green("✓ Cleared %s", what)
		return nil
	})
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Println()
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "md", "Output format: md or html")
	out := fs.String("out", "", "Write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: live-companion export [--format md|html] [--out file] <id>")
	}
	id := fs.Arg(0)

	return withApp(ctx, func(a *app) error {
		record, err := a.records.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("conversation %s: %w", id, err)
		}

		var doc string
		switch *format {
		case "md", "markdown":
			doc = conversation.Markdown(record, a.blobs.Dir())
		case "html":
			doc, err = conversation.RenderHTML(record, a.blobs.Dir())
			if err != nil {
				return fmt.Errorf("rendering html: %w", err)
			}
		default:
			return fmt.Errorf("unknown format %q", *format)
		}

		if *out == "" {
			fmt.Print(doc)
			return nil
		}
		if err := renameio.WriteFile(*out, []byte(doc), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", *out, err)
		}
		color.Green("✓ Exported %s to %s", id, *out)
		return nil
	})
}
