package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/apiforge/internal/logger"
	"github.com/PentesterFlow/apiforge/internal/mcpserve"
	"github.com/PentesterFlow/apiforge/internal/output"
	"github.com/PentesterFlow/apiforge/internal/synth"
	"github.com/PentesterFlow/apiforge/pkg/apiforge"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools [session-id]",
		Short: "Print the tools synthesized from a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, e, done, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer done()

			tools, err := e.SynthesizeTools(args[0])
			if err != nil {
				return err
			}
			return withWriter(config, func(w output.Writer) error {
				return w.WriteTools(tools)
			})
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, yaml)")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [session-id] [dir]",
		Short: "Write an MCP tool server project for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, e, done, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer done()
			return generate(e, config, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "API base URL baked into the server")
	return cmd
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [session-id] [tool-id]",
		Short: "Call one synthesized tool against the live API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			_, e, done, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer done()

			tool, err := findTool(e, args[0], args[1])
			if err != nil {
				return err
			}
			callArgs, err := parseArgs(toolArgs)
			if err != nil {
				return err
			}
			res, err := e.InvokeTool(cmd.Context(), baseURL, tool, callArgs)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL of the live API")
	cmd.Flags().StringArrayVarP(&toolArgs, "arg", "a", nil, "Tool argument (name=value, value parsed as JSON when possible)")
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [session-id]",
		Short: "Serve a session's tools as a live MCP server",
		Long: `Serve a session's tools over MCP, forwarding each call to the live API.

Without --addr the server speaks MCP on stdin and stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: runServe,
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL of the live API")
	cmd.Flags().StringVar(&addr, "addr", "", "Serve streamable HTTP on this address instead of stdio")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	e, h, err := newEngine(config)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	tools, err := e.SynthesizeTools(args[0])
	if err != nil {
		return err
	}
	srv, err := mcpserve.New(mcpserve.Config{
		Name:    config.Artifact.ServerName,
		Version: version,
		BaseURL: baseURL,
		Addr:    addr,
	}, tools, e, logger.Global())
	if err != nil {
		return err
	}
	return srv.Serve(h.Context(), os.Stdin, os.Stdout)
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, show and delete stored sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, done, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer done()

			list, err := e.Sessions()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tENDPOINTS\tERRORS\tREFERENCE")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", s.ID, s.Kind, s.Status, s.Endpoints, s.Errors, s.Reference)
			}
			return tw.Flush()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a stored catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, e, done, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer done()

			snap, err := e.GetCatalogue(args[0])
			if err != nil {
				return err
			}
			return writeResult(config, e, snap)
		},
	}
	showCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	showCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, yaml)")

	deleteCmd := &cobra.Command{
		Use:   "delete [session-id]...",
		Short: "Delete stored sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, done, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer done()

			for _, id := range args {
				if err := e.Delete(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintf(os.Stderr, "Deleted %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := apiforge.DefaultConfig()
			switch {
			case quickMode:
				config = apiforge.QuickConfig()
			case thoroughMode:
				config = apiforge.ThoroughConfig()
			}
			if err := config.SaveToFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&quickMode, "quick", false, "Write the quick preset")
	initCmd.Flags().BoolVar(&thoroughMode, "thorough", false, "Write the thorough preset")
	cmd.AddCommand(initCmd)
	return cmd
}

// openSession creates an engine for commands that only read stored
// sessions. Persistence is required for them to see anything.
func openSession(cmd *cobra.Command) (*apiforge.Config, *apiforge.Engine, func(), error) {
	if noState {
		return nil, nil, nil, fmt.Errorf("--no-state leaves no stored sessions to read")
	}
	config, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	e, h, err := newEngine(config)
	if err != nil {
		return nil, nil, nil, err
	}
	return config, e, h.Shutdown, nil
}

func findTool(e *apiforge.Engine, sessionID, toolID string) (synth.Tool, error) {
	tools, err := e.SynthesizeTools(sessionID)
	if err != nil {
		return synth.Tool{}, err
	}
	for _, t := range tools {
		if t.ID == toolID {
			return t, nil
		}
	}
	return synth.Tool{}, fmt.Errorf("session %s has no tool %q", sessionID, toolID)
}

// writeResult prints the catalogue, or its tools with --tools.
func writeResult(config *apiforge.Config, e *apiforge.Engine, snap *apiforge.Catalogue) error {
	return withWriter(config, func(w output.Writer) error {
		if emitTools {
			tools, err := e.SynthesizeTools(snap.ID)
			if err != nil {
				return err
			}
			return w.WriteTools(tools)
		}
		return w.WriteCatalogue(snap)
	})
}

func withWriter(config *apiforge.Config, fn func(output.Writer) error) error {
	var out io.Writer = os.Stdout
	path := config.Output.FilePath
	if outputFile != "" {
		path = outputFile
	}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	w, err := output.NewWriter(out, config.Output)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		return err
	}
	return w.Close()
}

func generate(e *apiforge.Engine, config *apiforge.Config, id, dir string) error {
	tools, err := e.SynthesizeTools(id)
	if err != nil {
		return err
	}
	cfg := config.Artifact
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	bundle, err := e.GenerateArtifacts(tools, cfg)
	if err != nil {
		return err
	}
	if err := bundle.WriteDir(dir); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d tools to %s\n", len(tools), dir)
	return nil
}

// parseHeaders turns "Name: value" flags into a map.
func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want Name: value", h)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out, nil
}

// parseArgs turns name=value flags into tool arguments. Values that parse
// as JSON keep their type; anything else is a string.
func parseArgs(raw []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(raw))
	for _, a := range raw {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid argument %q, want name=value", a)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		out[name] = v
	}
	return out, nil
}
