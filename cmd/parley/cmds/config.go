package cmds

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewConfigCommand(loadSettings SettingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			dump, err := settings.Dump()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dump)
			return nil
		},
	}
}
