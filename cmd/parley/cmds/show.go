package cmds

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/store"
)

func NewShowCommand(loadSettings SettingsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrapf(err, "invalid conversation id %s", args[0])
			}

			fileStore, err := store.NewFileStore(settings.StoreDirectory)
			if err != nil {
				return err
			}
			conv, err := fileStore.Load(id)
			if err != nil {
				return err
			}

			for _, msg := range conv.Messages {
				fmt.Fprintln(cmd.OutOrStdout(), msg.View())
			}
			return nil
		},
	}
}
