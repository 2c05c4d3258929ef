package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macropower/watchdo/pkg/config"
)

func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Schema()
			if err != nil {
				return fmt.Errorf("generate schema: %w", err)
			}

			mustN(fmt.Fprintln(cmd.OutOrStdout(), string(data)))

			return nil
		},
	}
}
