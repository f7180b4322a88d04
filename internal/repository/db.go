package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/jmoiron/sqlx"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/database"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
)

// ErrNotFound は対象の行が存在しないことを表します
var ErrNotFound = errors.New("record not found")

// DB はX-Rayのトレースを付けたsqlxのラッパーです
// クエリは?で書き、ドライバに合わせてRebindします
type DB struct {
	*sqlx.DB
}

// NewDB は接続済みのDBからリポジトリ用のDBを作成します
func NewDB(db *database.DB) *DB {
	return &DB{DB: db.DB}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "DB.BeginTx")
	tx, err := db.DB.BeginTxx(ctx, nil)
	utils.CloseSegment(seg, err)
	return tx, err
}

// GetContext wraps sqlx.DB.GetContext with X-Ray tracing
func (db *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, seg := utils.BeginSubsegment(ctx, "DB.Get")
	utils.AddMetadata(seg, "query", query)

	err := db.DB.GetContext(ctx, dest, db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		utils.CloseSegment(seg, nil)
		return err
	}
	utils.CloseSegment(seg, err)
	return err
}

// SelectContext wraps sqlx.DB.SelectContext with X-Ray tracing
func (db *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	ctx, seg := utils.BeginSubsegment(ctx, "DB.Select")
	utils.AddMetadata(seg, "query", query)

	err := db.DB.SelectContext(ctx, dest, db.Rebind(query), args...)
	utils.CloseSegment(seg, err)
	return err
}

// QueryRowxContext wraps sqlx.DB.QueryRowxContext with X-Ray tracing
func (db *DB) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	ctx, seg := utils.BeginSubsegment(ctx, "DB.QueryRow")
	utils.AddMetadata(seg, "query", query)
	defer utils.CloseSegment(seg, nil)

	return db.DB.QueryRowxContext(ctx, db.Rebind(query), args...)
}

// ExecContext wraps sqlx.DB.ExecContext with X-Ray tracing
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, seg := utils.BeginSubsegment(ctx, "DB.Exec")
	utils.AddMetadata(seg, "query", query)

	result, err := db.DB.ExecContext(ctx, db.Rebind(query), args...)
	utils.CloseSegment(seg, err)
	return result, err
}

// rollback はエラー時のロールバックで、失敗してもログに残すだけにします
func rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("rollback failed: %v", err)
	}
}
