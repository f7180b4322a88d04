package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
)

// NewResendCommand は送信履歴のIDを指定して再送するコマンドを作成します
func NewResendCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resend <id>",
		Short: "Resend the email of a dispatch record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid id %q", args[0])
			}

			a, err := opts.newApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			record, err := a.Dispatcher.Resend(cmd.Context(), id)
			if record == nil {
				return err
			}
			if err != nil {
				loggerOf(a).Warn("resend failed", zap.Int64("record_id", record.ID), zap.Error(err))
			}

			if opts.Format == "json" {
				if encErr := json.NewEncoder(out(cmd)).Encode(record); encErr != nil {
					return encErr
				}
				return err
			}
			fmt.Fprintf(out(cmd), "record %d: %s to %s (%s)\n", record.ID, record.Status, record.Recipient, record.Subject)
			return err
		},
	}
}
