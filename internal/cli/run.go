package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/loopbridge/internal/harness"
	"github.com/roach88/loopbridge/internal/notify"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	RunFlags
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its deliveries",
		Long: `Run a scenario against a fresh store and host loop.

Every change set delivered to a listener is printed in order, along with
scheduler and dispatcher counters. Exits 1 when an assertion fails.

Example:
  loopbridge run ./scenarios/collection_diff.yaml
  loopbridge run --index-base one --format json ./scenarios/collection_diff.yaml
  loopbridge run --config loopbridge.yaml --db /tmp/lb.db ./scenarios/release.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	addRunFlags(cmd, &opts.RunFlags)
	return cmd
}

func addRunFlags(cmd *cobra.Command, flags *RunFlags) {
	cmd.Flags().StringVar(&flags.Database, "db", "", "path to SQLite database (default: config or in-memory)")
	cmd.Flags().StringVar(&flags.IndexBase, "index-base", "", "index convention for collection changes (zero|one)")
	cmd.Flags().IntVar(&flags.Workers, "workers", 0, "concurrent transactions for parallel steps")
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return reportError(formatter, ErrCodeConfig, err)
	}

	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return reportError(formatter, ErrCodeScenario, WrapExitError(ExitCommandError, "failed to load scenario", err))
	}

	hopts, err := harnessOptions(cfg, opts.RunFlags, logger)
	if err != nil {
		return reportError(formatter, ErrCodeConfig, err)
	}

	ctx, cancel := runContext(cmd, cfg.RunTimeout())
	defer cancel()

	slog.Info("running scenario", "scenario", scenario.Name, "db", hopts.Database, "index_base", hopts.IndexBase)
	result, err := harness.Run(ctx, scenario, hopts)
	if err != nil {
		return reportError(formatter, ErrCodeRun, WrapExitError(ExitFailure, "scenario execution failed", err))
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeFailed, Message: "assertions failed", Details: result.Errors}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	} else {
		writeResultText(cmd.OutOrStdout(), scenario.Name, result)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed", scenario.Name))
	}
	return nil
}

// runContext cancels on SIGINT/SIGTERM and after timeout.
// Uses the command's context if available (for testing).
func runContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// writeResultText prints one line per delivery followed by counters.
func writeResultText(w io.Writer, name string, result *harness.Result) {
	fmt.Fprintf(w, "Scenario: %s (index base: %s)\n", name, result.IndexBase)
	if len(result.Deliveries) == 0 {
		fmt.Fprintln(w, "  (no deliveries)")
	}
	for _, d := range result.Deliveries {
		fmt.Fprintf(w, "  [%d] %-12s %s\n", d.Seq, d.Listener, describeChange(d))
	}

	s := result.Stats
	fmt.Fprintf(w, "Scheduler: invoked=%d executed=%d dropped=%d drains=%d\n",
		s.Scheduler.Invoked, s.Scheduler.Executed, s.Scheduler.Dropped, s.Scheduler.Drains)
	fmt.Fprintf(w, "Dispatcher: delivered=%d suppressed=%d failed=%d\n",
		s.Dispatcher.Delivered, s.Dispatcher.Suppressed, s.Dispatcher.Failed)

	if result.Pass {
		fmt.Fprintln(w, "✓ passed")
		return
	}
	fmt.Fprintln(w, "✗ failed")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
	}
}

func describeChange(d harness.Delivery) string {
	switch c := d.Change.(type) {
	case notify.ObjectChange:
		if c.IsDeleted {
			return "object deleted"
		}
		return fmt.Sprintf("object modified %v", d.Properties)
	case notify.CollectionChange:
		return fmt.Sprintf("collection deletions=%v insertions=%v modifications=%v->%v",
			c.Deletions, c.Insertions, c.ModificationsOld, c.ModificationsNew)
	default:
		return d.Kind
	}
}
