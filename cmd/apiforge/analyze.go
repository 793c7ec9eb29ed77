package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/apiforge/internal/progress"
	"github.com/PentesterFlow/apiforge/pkg/apiforge"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [source]",
		Short: "Analyze a website, repository or document",
		Long: `Analyze a source and print its endpoint catalogue.

The source kind is guessed from the argument unless --kind is given:
an existing directory or a GitHub URL is a repository, an existing file is a
document, and any other http(s) URL is a website.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Source kind (web, repository, document)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "Number of concurrent workers")
	cmd.Flags().IntVar(&maxPages, "max-pages", 50, "Maximum pages fetched from a website")
	cmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 3, "Maximum link depth, 0 for unlimited")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 30, "Per-request timeout in seconds")
	cmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 5, "Requests per second per host")
	cmd.Flags().StringArrayVar(&includePatterns, "include", nil, "URL patterns to include (regex)")
	cmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
	cmd.Flags().BoolVar(&followExternal, "follow-external", false, "Follow links to other hosts")
	cmd.Flags().BoolVar(&noProbeSpecs, "no-probe-specs", false, "Do not request well-known specification paths")
	cmd.Flags().BoolVar(&noHints, "no-hints", false, "Ignore robots.txt, sitemaps and source maps")
	cmd.Flags().BoolVar(&render, "render", false, "Render pages in a headless browser")
	cmd.Flags().IntVar(&browserPool, "browser-pool", 2, "Browser pool size")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "User agent")
	cmd.Flags().IntVar(&maxFiles, "max-files", 5000, "Maximum repository files scanned")

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, yaml)")
	cmd.Flags().BoolVar(&emitTools, "tools", false, "Print synthesized tools instead of the catalogue")
	cmd.Flags().StringVar(&generateDir, "generate", "", "Also write the MCP tool server project to this directory")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL baked into generated artifacts")

	cmd.Flags().BoolVar(&quickMode, "quick", false, "Quick preset: shallow and fast")
	cmd.Flags().BoolVar(&thoroughMode, "thorough", false, "Thorough preset: deep crawl with rendering")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	source := args[0]
	sourceKind, err := resolveKind(kind, source)
	if err != nil {
		return err
	}

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, h, err := newEngine(config)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	ctx := h.Context()
	var id string
	if sourceKind == apiforge.SourceDocument {
		data, err := os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		id, err = e.AnalyzeDocument(ctx, filepath.Base(source), data, nil)
		if err != nil {
			return err
		}
	} else {
		id, err = e.StartAnalysis(ctx, sourceKind, source, nil)
		if err != nil {
			return err
		}
	}

	enableProgress := !noProgress && !config.Verbose && !config.Debug
	var display *progress.Display
	watchCtx, stopWatch := context.WithCancel(context.Background())
	h.RegisterFunc("progress", stopWatch)
	if enableProgress {
		display = progress.New(os.Stderr)
		display.Start(source)
		budget := 0
		if sourceKind == apiforge.SourceWeb {
			budget = config.MaxPages
		}
		go display.Watch(watchCtx, 250*time.Millisecond, func() progress.Stats {
			return sample(e, id, budget)
		})
	} else {
		printBanner(source, sourceKind, config)
	}

	// The session settles even after an interrupt; wait for it regardless.
	snap, err := e.Wait(context.WithoutCancel(ctx), id)
	stopWatch()
	if err != nil {
		return err
	}
	if display != nil {
		display.Update(statsOf(snap, 0))
		display.Stop()
		display.PrintSummary(string(snap.Status))
	} else {
		printSummary(snap)
	}
	fmt.Fprintf(os.Stderr, "Session: %s\n", snap.ID)
	if h.IsShuttingDown() {
		fmt.Fprintln(os.Stderr, "Interrupted: results cover what was extracted before the signal.")
	}

	if err := writeResult(config, e, snap); err != nil {
		return err
	}
	if generateDir != "" {
		return generate(e, config, snap.ID, generateDir)
	}
	return nil
}

// resolveKind maps the --kind flag, or the shape of source, to a kind.
func resolveKind(flag, source string) (apiforge.SourceKind, error) {
	switch strings.ToLower(flag) {
	case "web", "url", "site":
		return apiforge.SourceWeb, nil
	case "repo", "repository":
		return apiforge.SourceRepository, nil
	case "doc", "document":
		return apiforge.SourceDocument, nil
	case "":
	default:
		return "", fmt.Errorf("unknown source kind %q", flag)
	}

	if info, err := os.Stat(source); err == nil {
		if info.IsDir() {
			return apiforge.SourceRepository, nil
		}
		return apiforge.SourceDocument, nil
	}
	lower := strings.ToLower(source)
	switch {
	case strings.Contains(lower, "github.com/") || strings.HasPrefix(lower, "git@"):
		return apiforge.SourceRepository, nil
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return apiforge.SourceWeb, nil
	}
	return "", fmt.Errorf("cannot tell what kind of source %q is; use --kind", source)
}

func sample(e *apiforge.Engine, id string, budget int) progress.Stats {
	snap, err := e.GetCatalogue(id)
	if err != nil {
		return progress.Stats{Budget: budget}
	}
	return statsOf(snap, budget)
}

func statsOf(snap *apiforge.Catalogue, budget int) progress.Stats {
	s := progress.Stats{
		Visited:   snap.Visited,
		Budget:    budget,
		Endpoints: len(snap.Endpoints),
		Errors:    len(snap.Errors),
	}
	switch n := snap.Stats["mentions"].(type) {
	case int64:
		s.Mentions = n
	case float64:
		s.Mentions = int64(n)
	}
	return s
}

func printBanner(source string, k apiforge.SourceKind, config *apiforge.Config) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "apiforge v%s\n", version)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Source:     %s (%s)\n", source, k)
	fmt.Fprintf(os.Stderr, "Workers:    %d\n", config.Workers)
	if k == apiforge.SourceWeb {
		fmt.Fprintf(os.Stderr, "Max Pages:  %d\n", config.MaxPages)
		fmt.Fprintf(os.Stderr, "Max Depth:  %d\n", config.MaxDepth)
		fmt.Fprintf(os.Stderr, "Rate Limit: %.0f req/s\n", config.RateLimit.RequestsPerSecond)
	}
	fmt.Fprintln(os.Stderr)
}

func printSummary(snap *apiforge.Catalogue) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Status:     %s\n", snap.Status)
	fmt.Fprintf(os.Stderr, "Visited:    %d\n", snap.Visited)
	fmt.Fprintf(os.Stderr, "Endpoints:  %d\n", len(snap.Endpoints))
	fmt.Fprintf(os.Stderr, "Errors:     %d\n", len(snap.Errors))

	count := 10
	if len(snap.Endpoints) < count {
		count = len(snap.Endpoints)
	}
	if count > 0 {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Top Endpoints:")
		for _, ep := range snap.Endpoints[:count] {
			fmt.Fprintf(os.Stderr, "  [%s] %s (%s)\n", ep.Method, ep.Path, ep.Category)
		}
		if len(snap.Endpoints) > count {
			fmt.Fprintf(os.Stderr, "  ... and %d more\n", len(snap.Endpoints)-count)
		}
	}
	fmt.Fprintln(os.Stderr)
}
