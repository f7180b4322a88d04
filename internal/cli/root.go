// Package cli は運用者向けのassetctlコマンドです
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/config"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/logger"
)

// AppFactory は設定を読み込んでAppを組み立てます。テストで差し替えます
type AppFactory func(ctx context.Context, opts app.Options) (*app.App, error)

// RootOptions は全コマンド共通のフラグです
type RootOptions struct {
	Format string // "json" | "text"

	newApp AppFactory
}

// ValidFormats は出力形式の一覧です
var ValidFormats = []string{"text", "json"}

// NewRootCommand はassetctlのルートコマンドを作成します
// factoryがnilの場合は環境変数と.envから設定を読み込みます
func NewRootCommand(factory AppFactory) *cobra.Command {
	if factory == nil {
		factory = defaultFactory
	}
	opts := &RootOptions{newApp: factory}

	cmd := &cobra.Command{
		Use:   "assetctl",
		Short: "Operate the asset notifier",
		Long:  "Run migrations, trigger a poll, resend emails and inspect the email history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPollCommand(opts))
	cmd.AddCommand(NewResendCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func defaultFactory(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return nil, err
	}
	zl, err := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  "console",
		Service: "assetctl",
		Env:     cfg.Env,
	})
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, zl, opts)
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func loggerOf(a *app.App) *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
