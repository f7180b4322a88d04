package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

// ActiveCheckoutRepository は返却検知のための貸出追跡表です
type ActiveCheckoutRepository interface {
	UpsertActive(ctx context.Context, record model.ActiveCheckoutRecord) error
	GetActive(ctx context.Context, assetID string) (*model.ActiveCheckoutRecord, error)
	ListActive(ctx context.Context) ([]model.ActiveCheckoutRecord, error)
	Complete(ctx context.Context, assetID, checkoutID string, completedAt time.Time) (bool, error)
}

// ActiveCheckoutRepositoryImpl は貸出追跡表の永続化を担当します
type ActiveCheckoutRepositoryImpl struct {
	db *DB
}

// NewActiveCheckoutRepository は新しいActiveCheckoutRepositoryを作成します
func NewActiveCheckoutRepository(db *DB) *ActiveCheckoutRepositoryImpl {
	return &ActiveCheckoutRepositoryImpl{db: db}
}

const activeCheckoutColumns = `
	id, asset_id, checkout_id, checkout_time, status, completed_at,
	asset_name, person_name, category, created_at`

// UpsertActive は(資産, 貸出)の組を追跡表に登録します
// 同じ組が既にある場合は何もしません
func (r *ActiveCheckoutRepositoryImpl) UpsertActive(ctx context.Context, record model.ActiveCheckoutRecord) error {
	ctx, seg := utils.BeginSubsegment(ctx, "ActiveCheckoutRepository.UpsertActive")

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO active_checkouts (
			asset_id, checkout_id, checkout_time, status, asset_name, person_name, category, created_at
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?
		)
		ON CONFLICT (asset_id, checkout_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		record.AssetID,
		record.CheckoutID,
		record.CheckoutTime.UTC(),
		model.ActiveCheckoutStatusActive,
		record.AssetName,
		record.PersonName,
		record.Category,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		utils.CloseSegment(seg, err)
		return fmt.Errorf("failed to upsert active checkout: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return nil
}

// GetActive は資産の返却前の貸出のうち最新のものを返します
// 存在しない場合はnilを返します
func (r *ActiveCheckoutRepositoryImpl) GetActive(ctx context.Context, assetID string) (*model.ActiveCheckoutRecord, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "ActiveCheckoutRepository.GetActive")

	query := `
		SELECT` + activeCheckoutColumns + `
		FROM active_checkouts
		WHERE asset_id = ? AND status = ?
		ORDER BY checkout_time DESC, id DESC
		LIMIT 1`

	records := []model.ActiveCheckoutRecord{}
	if err := r.db.SelectContext(ctx, &records, query, assetID, model.ActiveCheckoutStatusActive); err != nil {
		utils.CloseSegment(seg, err)
		return nil, fmt.Errorf("failed to query active checkout: %w", err)
	}

	utils.CloseSegment(seg, nil)
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListActive は返却前の貸出を全て返します
func (r *ActiveCheckoutRepositoryImpl) ListActive(ctx context.Context) ([]model.ActiveCheckoutRecord, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "ActiveCheckoutRepository.ListActive")

	query := `
		SELECT` + activeCheckoutColumns + `
		FROM active_checkouts
		WHERE status = ?
		ORDER BY asset_id, checkout_time`

	records := []model.ActiveCheckoutRecord{}
	if err := r.db.SelectContext(ctx, &records, query, model.ActiveCheckoutStatusActive); err != nil {
		utils.CloseSegment(seg, err)
		return nil, fmt.Errorf("failed to query active checkouts: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return records, nil
}

// Complete は(資産, 貸出)の組を返却済みにします
// 既に返却済みの場合はfalseを返します
func (r *ActiveCheckoutRepositoryImpl) Complete(ctx context.Context, assetID, checkoutID string, completedAt time.Time) (bool, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "ActiveCheckoutRepository.Complete")

	query := `
		UPDATE active_checkouts
		SET status = ?, completed_at = ?
		WHERE asset_id = ? AND checkout_id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		model.ActiveCheckoutStatusCompleted,
		completedAt.UTC(),
		assetID,
		checkoutID,
		model.ActiveCheckoutStatusActive,
	)
	if err != nil {
		utils.CloseSegment(seg, err)
		return false, fmt.Errorf("failed to complete active checkout: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		utils.CloseSegment(seg, err)
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return rowsAffected > 0, nil
}
