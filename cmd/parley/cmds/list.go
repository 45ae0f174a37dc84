package cmds

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/store"
)

func NewListCommand(loadSettings SettingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			fileStore, err := store.NewFileStore(settings.StoreDirectory)
			if err != nil {
				return err
			}

			summaries, err := fileStore.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tMODEL\tMESSAGES\tTURNS\tUPDATED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.Provider, s.Model, s.MessageCount, s.TurnCount,
					s.Updated.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}
