package model

import "time"

// ActiveCheckoutStatus は追跡中の貸出の状態です
type ActiveCheckoutStatus string

const (
	ActiveCheckoutStatusActive    ActiveCheckoutStatus = "active"
	ActiveCheckoutStatusCompleted ActiveCheckoutStatus = "completed"
)

// ActiveCheckoutRecord は返却検知のために追跡する(資産, 貸出)の組です
// active -> completed の遷移は1度だけです
type ActiveCheckoutRecord struct {
	ID           int64                `db:"id" json:"id"`
	AssetID      string               `db:"asset_id" json:"assetId"`
	CheckoutID   string               `db:"checkout_id" json:"checkoutId"`
	CheckoutTime time.Time            `db:"checkout_time" json:"checkoutTime"`
	Status       ActiveCheckoutStatus `db:"status" json:"status"`
	CompletedAt  *time.Time           `db:"completed_at" json:"completedAt,omitempty"`
	AssetName    string               `db:"asset_name" json:"assetName"`
	PersonName   string               `db:"person_name" json:"personName"`
	Category     string               `db:"category" json:"category"`
	CreatedAt    time.Time            `db:"created_at" json:"createdAt"`
}

// IsActive は返却前かどうかを返します
func (r ActiveCheckoutRecord) IsActive() bool {
	return r.Status == ActiveCheckoutStatusActive
}
