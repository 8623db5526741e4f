package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go-analyst/internal/app"
	"go-analyst/pkg/config"
	"go-analyst/pkg/format"
	"go-analyst/pkg/logger"
	"go-analyst/pkg/models"
)

// errRunFailed marks a run that finished without success; the result is
// already printed.
var errRunFailed = errors.New("run failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		queryCtx   string
		logLevel   string
		pretty     bool
		outFormat  string
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer one analytical question and print the result",
		Long: `Plan, execute and verify one question against the configured tools and
print the final result, including its trace, as JSON. With --format only
the answer is printed, rendered as json, markdown, html or text.

--context takes a JSON object, or @path to read one from a file. A "plan"
key in the context supplies the steps directly instead of asking the model.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if err := logger.NewGlobal(cfg.Log.Level, pretty || cfg.Log.Pretty); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			qctx, err := parseContext(queryCtx)
			if err != nil {
				return err
			}
			var kind format.Kind
			if outFormat != "" {
				if kind, err = format.Parse(outFormat); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Orchestrator.Run(ctx, uuid.NewString(), models.Query{Text: strings.Join(args, " "), Context: qctx})
			if err := printResult(cmd.OutOrStdout(), res, kind); err != nil {
				return err
			}
			if !res.Succeeded() {
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&queryCtx, "context", "", "JSON object (or @file) passed to the planner")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "human readable logs on stderr")
	cmd.Flags().StringVar(&outFormat, "format", "", "print only the answer as json, markdown, html or text")
	cmd.SetContext(context.Background())
	return cmd
}

func parseContext(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read context: %w", err)
		}
		raw = string(b)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("parse context: %w", err)
	}
	return out, nil
}

// printResult writes the whole result, or only the rendered answer when a
// kind is given.
func printResult(w io.Writer, res *models.Result, kind format.Kind) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if kind == "" {
		return enc.Encode(res)
	}
	out, err := format.Result(res, kind)
	if err != nil {
		return err
	}
	if text, ok := out.Data.(string); ok && kind != format.JSON {
		if out.Error != "" {
			_, err = fmt.Fprintf(w, "error: %s\n", out.Error)
			if err != nil {
				return err
			}
		}
		_, err = fmt.Fprintln(w, strings.TrimRight(text, "\n"))
		return err
	}
	return enc.Encode(out)
}
