package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/stretchr/testify/require"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
)

// newTestDB はマイグレーション済みのSQLiteを一時ディレクトリに作成します
func newTestDB(t *testing.T) *DB {
	t.Helper()

	conn, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, database.Migrate(conn))
	return NewDB(conn)
}

// newTestContext はX-Rayのセグメントを開いたコンテキストを返します
func newTestContext(t *testing.T) context.Context {
	t.Helper()

	ctx, seg := xray.BeginSegment(context.Background(), t.Name())
	t.Cleanup(func() { seg.Close(nil) })
	return ctx
}
