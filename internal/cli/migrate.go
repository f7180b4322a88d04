package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
)

// NewMigrateCommand はマイグレーションのコマンドを作成します
// Appの作成時にupは適用済みなので、upは現在の状態を確認するだけになります
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			a, err := opts.newApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if direction == "down" {
				if err := database.MigrateDown(a.DB); err != nil {
					return err
				}
			}
			fmt.Fprintf(out(cmd), "migrate %s: ok\n", direction)
			return nil
		},
	}
}
