// Command hdxscraper runs the scrapers of a document and writes, or serves,
// their results.
//
//	hdxscraper run   -scrapers scrapers.yaml -out results.json
//	hdxscraper serve -scrapers scrapers.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hdxscraper/internal/app"
	"hdxscraper/internal/infrastructure"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("env_file_invalid", slog.String("error", err.Error()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		slog.Error("hdxscraper_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return errors.New("no command given")
	}
	command := args[0]
	if command != "run" && command != "serve" {
		usage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}

	opts, err := parseFlags(command, args[1:], stderr)
	if err != nil {
		return err
	}

	application, err := app.Load(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			application.Logger.Error("close_failed", slog.String("error", err.Error()))
		}
		_ = infrastructure.CloseLogFile()
	}()

	if command == "serve" {
		return application.Serve(ctx)
	}
	return application.Run(ctx)
}

func parseFlags(command string, args []string, stderr io.Writer) (app.Options, error) {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "run configuration YAML file")
	scrapers := fs.String("scrapers", "", "scraper document YAML file")
	levels := fs.String("levels", "", "comma separated levels to run")
	include := fs.String("include", "", "comma separated units to run")
	force := fs.String("force", "", "comma separated units to run regardless of -include and -levels")
	prioritise := fs.String("prioritise", "", "comma separated units to run first")
	out := fs.String("out", "", "path of the results JSON file")
	today := fs.String("today", "", "fixed today date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return app.Options{}, err
	}

	return app.Options{
		ConfigPath:   *configPath,
		ScrapersPath: *scrapers,
		Output:       *out,
		Today:        *today,
		Levels:       splitList(*levels),
		Include:      splitList(*include),
		Force:        splitList(*force),
		Prioritise:   splitList(*prioritise),
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: hdxscraper run|serve [flags]")
	fmt.Fprintln(w, "run 'hdxscraper run -h' for the flags")
}
