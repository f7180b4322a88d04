package model

import (
	"strings"
	"time"
)

// AssetSnapshot はスナップショット取得元から返される資産1件です
// ポーリングのたびに作り直し、そのままは永続化しません
type AssetSnapshot struct {
	ID          string
	DisplayName string
	Category    string
	Archived    bool

	// 以下は高々1つだけ設定されます
	Checkout    *CheckoutRecord
	Repair      *RepairRecord
	Reservation *ReservationRecord
}

// Person は貸出・予約の利用者です
type Person struct {
	ID    string
	Name  string
	Email string
}

// CheckoutRecord は資産に埋め込まれた貸出情報です
type CheckoutRecord struct {
	ID           string
	Person       *Person // nilの場合はロケーションのみの貸出
	LocationName string
	CheckoutTime time.Time
	DueTime      *time.Time
	Status       string
	Notes        string
}

// RepairRecord は資産に埋め込まれた修理情報です
type RepairRecord struct {
	ID          string
	Status      string
	Description string
	DueTime     *time.Time
	RepairTime  *time.Time
}

// ReservationRecord は資産に埋め込まれた予約情報です
type ReservationRecord struct {
	ID          string
	Person      *Person
	StartTime   *time.Time
	EndTime     *time.Time
	CreatedTime time.Time
}

// CheckoutDetails は貸出IDで直接参照した結果です
type CheckoutDetails struct {
	ID       string
	Status   string
	AssetIDs []string
}

// IsCheckedOut は貸出ステータスがまだ貸出中を表しているかを返します
// 表記揺れ(checkedOut, checked_out, Checked Out)を吸収します
// ステータスが空の場合は貸出中として扱います
func IsCheckedOut(status string) bool {
	s := strings.ToLower(status)
	s = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
	return s == "" || s == "checkedout"
}
