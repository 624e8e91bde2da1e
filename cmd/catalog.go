package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/execution-probe/internal/app"
)

// newCatalogCmd prints the resolved endpoint catalog as YAML. The output is
// itself a valid catalog.file.
func newCatalogCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the endpoint catalog with identifiers substituted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.load()
			if err != nil {
				return err
			}
			defer rt.close()

			catalog, err := app.Catalog(rt.cfg)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(catalog); err != nil {
				return fmt.Errorf("encode catalog: %w", err)
			}
			return enc.Close()
		},
	}
}
