package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

func TestLedgerRepository_Record(t *testing.T) {
	ctx := newTestContext(t)
	repo := NewLedgerRepository(newTestDB(t))
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	entry := model.LedgerEntry{
		EventType:      model.EventTypeCheckout,
		EventID:        "CO-1",
		AssetID:        "A1",
		EventCreatedAt: now,
		ProcessedAt:    now,
	}

	has, err := repo.Has(ctx, model.EventTypeCheckout, "CO-1")
	require.NoError(t, err)
	assert.False(t, has)

	inserted, err := repo.Record(ctx, entry, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.True(t, inserted)

	// 同じキーの2回目は何もしない
	inserted, err = repo.Record(ctx, entry, []string{"A1", "A2"})
	require.NoError(t, err)
	assert.False(t, inserted)

	has, err = repo.Has(ctx, model.EventTypeCheckout, "CO-1")
	require.NoError(t, err)
	assert.True(t, has)

	// 種類が違えば別のキー
	has, err = repo.Has(ctx, model.EventTypeRepair, "CO-1")
	require.NoError(t, err)
	assert.False(t, has)

	for _, assetID := range []string{"A1", "A2"} {
		marks, err := repo.ListByAsset(ctx, assetID)
		require.NoError(t, err)
		require.Len(t, marks, 1)
		assert.Equal(t, model.EventTypeCheckout, marks[0].EventType)
		assert.Equal(t, "CO-1", marks[0].EventID)
	}
}

func TestLedgerRepository_RecordWithoutAssetList(t *testing.T) {
	ctx := newTestContext(t)
	repo := NewLedgerRepository(newTestDB(t))

	inserted, err := repo.Record(ctx, model.LedgerEntry{
		EventType: model.EventTypeRepair,
		EventID:   "R-1",
		AssetID:   "A3",
	}, nil)
	require.NoError(t, err)
	assert.True(t, inserted)

	marks, err := repo.ListByAsset(ctx, "A3")
	require.NoError(t, err)
	require.Len(t, marks, 1)
	assert.Equal(t, "R-1", marks[0].EventID)

	marks, err = repo.ListByAsset(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, marks)
}
