package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

// LedgerRepository はイベントの処理済み台帳です
// 追記のみで、更新・削除の操作は持ちません
type LedgerRepository interface {
	Has(ctx context.Context, eventType model.EventType, eventID string) (bool, error)
	Record(ctx context.Context, entry model.LedgerEntry, assetIDs []string) (bool, error)
	ListByAsset(ctx context.Context, assetID string) ([]model.AssetMark, error)
}

// LedgerRepositoryImpl は台帳の永続化を担当します
type LedgerRepositoryImpl struct {
	db *DB
}

// NewLedgerRepository は新しいLedgerRepositoryを作成します
func NewLedgerRepository(db *DB) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db}
}

// Has は(eventType, eventID)が台帳に記録済みかを返します
func (r *LedgerRepositoryImpl) Has(ctx context.Context, eventType model.EventType, eventID string) (bool, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "LedgerRepository.Has")

	query := `
		SELECT COUNT(*)
		FROM ledger_entries
		WHERE event_type = ? AND event_id = ?`

	var count int
	if err := r.db.GetContext(ctx, &count, query, eventType, eventID); err != nil {
		utils.CloseSegment(seg, err)
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return count > 0, nil
}

// Record は台帳に1行と資産ごとのマーカーを書き込みます
// 既に同じキーがある場合は何もせずfalseを返します
func (r *LedgerRepositoryImpl) Record(ctx context.Context, entry model.LedgerEntry, assetIDs []string) (inserted bool, err error) {
	ctx, seg := utils.BeginSubsegment(ctx, "LedgerRepository.Record")
	defer func() { utils.CloseSegment(seg, err) }()

	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now()
	}
	if entry.EventCreatedAt.IsZero() {
		entry.EventCreatedAt = entry.ProcessedAt
	}
	if len(assetIDs) == 0 && entry.AssetID != "" {
		assetIDs = []string{entry.AssetID}
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	query := tx.Rebind(`
		INSERT INTO ledger_entries (
			event_type, event_id, asset_id, event_created_at, processed_at
		) VALUES (
			?, ?, ?, ?, ?
		)
		ON CONFLICT (event_type, event_id) DO NOTHING`)

	result, err := tx.ExecContext(ctx, query,
		entry.EventType,
		entry.EventID,
		entry.AssetID,
		entry.EventCreatedAt.UTC(),
		entry.ProcessedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 他のポーラーが先に記録した
		return false, nil
	}

	markQuery := tx.Rebind(`
		INSERT INTO ledger_asset_marks (
			event_type, event_id, asset_id, processed_at
		) VALUES (
			?, ?, ?, ?
		)
		ON CONFLICT (event_type, event_id, asset_id) DO NOTHING`)

	for _, assetID := range assetIDs {
		if _, err = tx.ExecContext(ctx, markQuery, entry.EventType, entry.EventID, assetID, entry.ProcessedAt.UTC()); err != nil {
			return false, fmt.Errorf("failed to insert ledger mark for asset %s: %w", assetID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// ListByAsset は資産ごとの処理済みマーカーを新しい順に返します
func (r *LedgerRepositoryImpl) ListByAsset(ctx context.Context, assetID string) ([]model.AssetMark, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "LedgerRepository.ListByAsset")

	query := `
		SELECT event_type, event_id, asset_id, processed_at
		FROM ledger_asset_marks
		WHERE asset_id = ?
		ORDER BY processed_at DESC`

	marks := []model.AssetMark{}
	if err := r.db.SelectContext(ctx, &marks, query, assetID); err != nil {
		utils.CloseSegment(seg, err)
		return nil, fmt.Errorf("failed to query ledger marks: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return marks, nil
}
