package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCommand creates the "config" command, which prints the merged
// configuration with credentials redacted.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the merged deploy configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode configuration: %w", err)
			}

			if IsJSONOutput() {
				// Round-trip through YAML so Secret redaction applies.
				var doc map[string]interface{}
				if err := yaml.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("encode configuration: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), doc)
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
