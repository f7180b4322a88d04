package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/app"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/config"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/dispatch"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

type staticSource struct {
	assets []model.AssetSnapshot
}

func (s *staticSource) Snapshot(ctx context.Context) ([]model.AssetSnapshot, error) {
	return s.assets, nil
}

// newTestFactory は同じSQLiteファイルを使うAppを毎回作成します
func newTestFactory(t *testing.T, source *staticSource) AppFactory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.db")

	return func(ctx context.Context, opts app.Options) (*app.App, error) {
		cfg := &config.Config{
			DB:             database.Config{Driver: database.DriverSQLite, SQLitePath: path},
			AssetBots:      config.AssetBotsConfig{APIKey: "key"},
			AdminEmailsRaw: "admin@example.com",
			Timezone:       "UTC",
		}
		cfg.Poller.Interval = time.Minute
		cfg.Poller.AutoSendWindow = time.Hour
		if source != nil {
			opts.Source = source
		}
		return app.New(ctx, cfg, zap.NewNop(), opts)
	}
}

func execute(t *testing.T, factory AppFactory, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(factory)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := execute(t, newTestFactory(t, nil), "history", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMigrateCommand(t *testing.T) {
	factory := newTestFactory(t, nil)

	output, err := execute(t, factory, "migrate")
	require.NoError(t, err)
	assert.Contains(t, output, "migrate up: ok")

	output, err = execute(t, factory, "migrate", "down")
	require.NoError(t, err)
	assert.Contains(t, output, "migrate down: ok")

	_, err = execute(t, factory, "migrate", "sideways")
	assert.Error(t, err)
}

func TestPollAndHistoryCommands(t *testing.T) {
	source := &staticSource{assets: []model.AssetSnapshot{{
		ID:          "A1",
		DisplayName: "Canon EOS R5",
		Checkout: &model.CheckoutRecord{
			ID:           "CO-1",
			Person:       &model.Person{ID: "P1", Name: "John Smith", Email: "john@example.com"},
			CheckoutTime: time.Now().Add(-time.Minute),
		},
	}}}
	factory := newTestFactory(t, source)

	output, err := execute(t, factory, "poll")
	require.NoError(t, err)
	assert.Contains(t, output, "1 checkouts")
	assert.Contains(t, output, "sent 1")

	output, err = execute(t, factory, "history")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "SUBJECT")
	assert.Contains(t, lines[1], "CO-1")
	assert.Contains(t, lines[1], "Checkout Confirmation: Canon EOS R5")

	output, err = execute(t, factory, "history", "--format", "json", "--event-type", "repair")
	require.NoError(t, err)
	var records []model.DispatchRecord
	require.NoError(t, json.Unmarshal([]byte(output), &records))
	assert.Empty(t, records)
}

func TestResendCommand(t *testing.T) {
	factory := newTestFactory(t, nil)

	// 手動送信待ちの履歴を1件作る
	a, err := factory(context.Background(), app.Options{})
	require.NoError(t, err)
	payload := model.CheckoutPayload{
		CheckoutID:   "CO-1",
		AssetName:    "Canon EOS R5",
		AssetIDs:     []string{"A1"},
		PersonName:   "John Smith",
		PersonEmail:  "john@example.com",
		CheckoutTime: time.Now().Add(-3 * time.Hour),
	}
	msg, isAdmin := a.Dispatcher.ConfirmationMessage(payload.PersonEmail, "Checkout Confirmation: Canon EOS R5", "<p>hi</p>")
	id, err := a.Dispatcher.Skip(context.Background(), dispatch.Notification{
		EventType: model.EventTypeCheckout,
		EventID:   "CO-1",
		Message:   msg,
		Payload:   payload,
		IsAdmin:   isAdmin,
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	output, err := execute(t, factory, "resend", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Contains(t, output, "record 2: sent to john@example.com")

	_, err = execute(t, factory, "resend", "999")
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrRecordNotFound)

	_, err = execute(t, factory, "resend", "abc")
	assert.Error(t, err)
}
