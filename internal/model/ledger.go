package model

import "time"

// LedgerEntry はイベントを処理済みとして記録した台帳の1行です
// (event_type, event_id)ごとに高々1行で、更新も削除もしません
type LedgerEntry struct {
	ID             int64     `db:"id" json:"id"`
	EventType      EventType `db:"event_type" json:"eventType"`
	EventID        string    `db:"event_id" json:"eventId"`
	AssetID        string    `db:"asset_id" json:"assetId"`
	EventCreatedAt time.Time `db:"event_created_at" json:"eventCreatedAt"`
	ProcessedAt    time.Time `db:"processed_at" json:"processedAt"`
}

// AssetMark は資産単位の処理済みマーカーです
// 複数資産の貸出は台帳1行に対して資産数ぶん作られます
type AssetMark struct {
	EventType   EventType `db:"event_type" json:"eventType"`
	EventID     string    `db:"event_id" json:"eventId"`
	AssetID     string    `db:"asset_id" json:"assetId"`
	ProcessedAt time.Time `db:"processed_at" json:"processedAt"`
}
