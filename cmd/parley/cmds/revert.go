package cmds

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/parley/pkg/fsx"
	"github.com/go-go-golems/parley/pkg/index"
	"github.com/go-go-golems/parley/pkg/patch"
	"github.com/go-go-golems/parley/pkg/store"
)

func NewRevertCommand(loadSettings SettingsLoader) *cobra.Command {
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "revert <conversation-id>",
		Short: "Undo the most recent patch applied by a conversation",
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

			if projectRoot == "" {
				projectRoot = settings.ProjectRoot
			}
			if projectRoot == "" {
				projectRoot = fsx.DiscoverRoot(".")
			}
			projectFS, err := fsx.NewProjectFS(projectRoot)
			if err != nil {
				return err
			}

			manager := patch.NewManager(projectFS, fileStore.PatchLog(id),
				patch.WithRefresher(index.NewTagIndexer()),
			)
			defer manager.Wait()

			if err := manager.RevertLast(); err != nil {
				if patch.IsLogEmpty(err) {
					return errors.New("no patches to revert for this conversation")
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "last patch reverted")
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root (default: discovered)")
	return cmd
}
