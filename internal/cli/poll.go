package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
)

// NewPollCommand はポーリングを1回実行するコマンドを作成します
func NewPollCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one poll cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd.Context(), app.Options{WithPoller: true})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Poller.Poll(cmd.Context())
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				return json.NewEncoder(out(cmd)).Encode(result)
			}
			if result.Skipped {
				fmt.Fprintln(out(cmd), "poll skipped: another poll is in progress")
				return nil
			}
			fmt.Fprintf(out(cmd), "run %s: %d assets, %d checkouts, %d reservations, %d repairs, %d checkins\n",
				result.RunID, result.Assets, result.Checkouts, result.Reservations, result.Repairs, result.Checkins)
			fmt.Fprintf(out(cmd), "sent %d, failed %d, manual %d, suppressed %d, invalid %d, errors %d\n",
				result.Sent, result.Failed, result.ManualSend, result.Suppressed, result.Invalid, result.Errors)
			return nil
		},
	}
}
