package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/execution-probe/internal/app"
)

func newExtractCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Probe the API and write the raw and structured result files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.close()

			a, err := app.New(cmd.Context(), rt.cfg, rt.logger, rt.stdout)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			if code := a.Runner().Execute(cmd.Context()); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
}
