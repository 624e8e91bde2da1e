// Package cmd defines the CLI commands of the execution-probe executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/execution-probe/internal/config"
	"github.com/JakeFAU/execution-probe/internal/extract"
	"github.com/JakeFAU/execution-probe/internal/logging"
)

// exitCodeError carries a non-zero exit code out of a command without
// printing anything further.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// runtime is what every subcommand needs after flag parsing.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	stdout io.Writer
}

type rootOptions struct {
	cfgFile string
	stdout  io.Writer
	stderr  io.Writer
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution-probe",
		Short: "Extracts the checkpoint tree of one test execution from its API.",
		Long: `execution-probe sweeps a catalog of candidate REST endpoints for one
execution, falls back to GraphQL when too few answer, and normalizes the
first usable payload into a canonical checkpoint/step tree.

Exit codes: 0 structured data written, 1 no structured data, 2 fault.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(opts.stdout)
	cmd.SetErr(opts.stderr)
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); PROBE_* env vars override it")

	cmd.AddCommand(newExtractCmd(opts))
	cmd.AddCommand(newCatalogCmd(opts))
	cmd.AddCommand(newFakeAPICmd(opts))
	return cmd
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (*runtime, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, stdout: o.stdout}, nil
}

func (r *runtime) close() {
	// stderr sync fails on some terminals; nothing useful to do about it.
	_ = r.logger.Sync()
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&rootOptions{stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return extract.ExitFault
}
