package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

// DefaultListLimit は履歴取得の件数指定がない場合の件数です
const DefaultListLimit = 50

// DispatchFilter は送信履歴の絞り込み条件です
type DispatchFilter struct {
	EventType model.EventType
	EventID   string
	Limit     int
}

// DispatchRepository は送信履歴(監査ログ)の永続化を担当するインターフェースです
type DispatchRepository interface {
	Insert(ctx context.Context, record *model.DispatchRecord) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.DispatchRecord, error)
	List(ctx context.Context, filter DispatchFilter) ([]model.DispatchRecord, error)
}

// DispatchRepositoryImpl は送信履歴の永続化を担当します
type DispatchRepositoryImpl struct {
	db *DB
}

// NewDispatchRepository は新しいDispatchRepositoryを作成します
func NewDispatchRepository(db *DB) *DispatchRepositoryImpl {
	return &DispatchRepositoryImpl{db: db}
}

const dispatchColumns = `
	id, event_type, event_id, recipient, subject, sent_at, status,
	COALESCE(error_message, '') AS error_message,
	is_admin, is_late, needs_manual_send, payload`

// Insert は送信履歴を1件追加し、採番したIDを返します
func (r *DispatchRepositoryImpl) Insert(ctx context.Context, record *model.DispatchRecord) (int64, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "DispatchRepository.Insert")

	if record.SentAt.IsZero() {
		record.SentAt = time.Now()
	}
	if len(record.RawPayload) == 0 && record.Payload != nil {
		raw, err := model.EncodePayload(record.Payload)
		if err != nil {
			utils.CloseSegment(seg, err)
			return 0, err
		}
		record.RawPayload = raw
	}

	var errorMessage interface{}
	if record.ErrorMessage != "" {
		errorMessage = record.ErrorMessage
	}

	query := `
		INSERT INTO dispatch_records (
			event_type, event_id, recipient, subject, sent_at, status,
			error_message, is_admin, is_late, needs_manual_send, payload
		) VALUES (
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		)
		RETURNING id`

	// payloadはpostgresのjsonbに合わせて文字列で渡す
	err := r.db.QueryRowxContext(ctx, query,
		record.EventType,
		record.EventID,
		record.Recipient,
		record.Subject,
		record.SentAt.UTC(),
		record.Status,
		errorMessage,
		record.IsAdmin,
		record.IsLate,
		record.NeedsManualSend,
		string(record.RawPayload),
	).Scan(&record.ID)
	if err != nil {
		utils.CloseSegment(seg, err)
		return 0, fmt.Errorf("failed to insert dispatch record: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return record.ID, nil
}

// GetByID は指定されたIDの送信履歴を取得します
func (r *DispatchRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.DispatchRecord, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "DispatchRepository.GetByID")

	query := `SELECT` + dispatchColumns + `
		FROM dispatch_records
		WHERE id = ?`

	var record model.DispatchRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			utils.CloseSegment(seg, nil)
			return nil, fmt.Errorf("dispatch record %d: %w", id, ErrNotFound)
		}
		utils.CloseSegment(seg, err)
		return nil, fmt.Errorf("failed to query dispatch record: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return &record, nil
}

// List は送信履歴を新しい順に取得します
func (r *DispatchRepositoryImpl) List(ctx context.Context, filter DispatchFilter) ([]model.DispatchRecord, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "DispatchRepository.List")

	var (
		conds []string
		args  []interface{}
	)
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.EventID != "" {
		conds = append(conds, "event_id = ?")
		args = append(args, filter.EventID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT` + dispatchColumns + `
		FROM dispatch_records`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY sent_at DESC, id DESC\n\t\tLIMIT ?"
	args = append(args, limit)

	records := []model.DispatchRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		utils.CloseSegment(seg, err)
		return nil, fmt.Errorf("failed to query dispatch records: %w", err)
	}

	utils.CloseSegment(seg, nil)
	return records, nil
}
