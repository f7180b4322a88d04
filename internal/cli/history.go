package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/repository"
)

// HistoryOptions はhistoryコマンドのフラグです
type HistoryOptions struct {
	*RootOptions
	Limit     int
	EventType string
	EventID   string
}

// NewHistoryCommand は送信履歴を表示するコマンドを作成します
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent email dispatch records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.Dispatcher.List(cmd.Context(), repository.DispatchFilter{
				EventType: model.EventType(opts.EventType),
				EventID:   opts.EventID,
				Limit:     opts.Limit,
			})
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				if records == nil {
					records = []model.DispatchRecord{}
				}
				return json.NewEncoder(out(cmd)).Encode(records)
			}

			w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSENT AT\tTYPE\tEVENT\tSTATUS\tMANUAL\tRECIPIENT\tSUBJECT")
			for _, r := range records {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
					r.ID, r.SentAt.Format(time.RFC3339), r.EventType, r.EventID, r.Status, r.NeedsManualSend, r.Recipient, r.Subject)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", repository.DefaultListLimit, "maximum number of records")
	cmd.Flags().StringVar(&opts.EventType, "event-type", "", "filter by event type (checkout|reservation|repair|checkin)")
	cmd.Flags().StringVar(&opts.EventID, "event-id", "", "filter by event id")

	return cmd
}
