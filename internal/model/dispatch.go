package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DispatchStatus は送信試行の結果です
type DispatchStatus string

const (
	DispatchStatusSent    DispatchStatus = "sent"
	DispatchStatusFailed  DispatchStatus = "failed"
	DispatchStatusSkipped DispatchStatus = "skipped"
)

// ErrUnknownEventType は再送用のペイロードを復元できない種類を表します
var ErrUnknownEventType = errors.New("unknown event type")

// DispatchRecord は通知の送信試行ごとの監査ログです
// 追記のみで、再送は新しいレコードとして追加します
type DispatchRecord struct {
	ID              int64          `db:"id" json:"id"`
	EventType       EventType      `db:"event_type" json:"eventType"`
	EventID         string         `db:"event_id" json:"eventId"`
	Recipient       string         `db:"recipient" json:"recipient"`
	Subject         string         `db:"subject" json:"subject"`
	SentAt          time.Time      `db:"sent_at" json:"sentAt"`
	Status          DispatchStatus `db:"status" json:"status"`
	ErrorMessage    string         `db:"error_message" json:"errorMessage,omitempty"`
	IsAdmin         bool           `db:"is_admin" json:"isAdmin"`
	IsLate          bool           `db:"is_late" json:"isLate"`
	NeedsManualSend bool           `db:"needs_manual_send" json:"needsManualSend"`
	RawPayload      []byte         `db:"payload" json:"-"`
	Payload         Payload        `db:"-" json:"payload,omitempty"`
}

// DecodePayload はRawPayloadをイベント種別に応じた型に復元します
func (r *DispatchRecord) DecodePayload() error {
	p, err := DecodePayload(r.EventType, r.RawPayload)
	if err != nil {
		return err
	}
	r.Payload = p
	return nil
}

// Payload は再送時にメールを組み立て直すために保存するイベントの内容です
// イベント種別ごとに必要な項目だけを持ちます
type Payload interface {
	EventType() EventType
}

// CheckoutPayload は貸出確認メールと遅延通知メールの内容です
type CheckoutPayload struct {
	CheckoutID   string     `json:"checkoutId"`
	AssetName    string     `json:"assetName"`
	AssetIDs     []string   `json:"assetIds"`
	PersonName   string     `json:"personName"`
	PersonEmail  string     `json:"personEmail,omitempty"`
	LocationName string     `json:"locationName,omitempty"`
	CheckoutTime time.Time  `json:"checkoutTime"`
	DueTime      *time.Time `json:"dueTime,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	HoursLate    int        `json:"hoursLate,omitempty"`
}

func (CheckoutPayload) EventType() EventType { return EventTypeCheckout }

// ReservationPayload は予約確認メールの内容です
type ReservationPayload struct {
	ReservationID string     `json:"reservationId"`
	AssetName     string     `json:"assetName"`
	AssetIDs      []string   `json:"assetIds"`
	PersonName    string     `json:"personName"`
	PersonEmail   string     `json:"personEmail,omitempty"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	CreatedTime   time.Time  `json:"createdTime"`
}

func (ReservationPayload) EventType() EventType { return EventTypeReservation }

// RepairPayload は修理通知メールの内容です
type RepairPayload struct {
	RepairID    string     `json:"repairId"`
	AssetID     string     `json:"assetId"`
	AssetName   string     `json:"assetName"`
	Category    string     `json:"category,omitempty"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	DueTime     *time.Time `json:"dueTime,omitempty"`
	RepairTime  *time.Time `json:"repairTime,omitempty"`
}

func (RepairPayload) EventType() EventType { return EventTypeRepair }

// CheckinPayload は返却通知メールの内容です
type CheckinPayload struct {
	CheckoutID   string    `json:"checkoutId"`
	AssetID      string    `json:"assetId"`
	AssetName    string    `json:"assetName"`
	Category     string    `json:"category,omitempty"`
	PersonName   string    `json:"personName"`
	CheckoutTime time.Time `json:"checkoutTime"`
	CheckinTime  time.Time `json:"checkinTime"`
	DaysOut      int       `json:"daysOut"`
}

func (CheckinPayload) EventType() EventType { return EventTypeCheckin }

// EncodePayload はペイロードをJSONに変換します
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("payload is nil")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EventType(), err)
	}
	return b, nil
}

// DecodePayload はイベント種別をタグとしてペイロードを復元します
func DecodePayload(eventType EventType, raw []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch eventType {
	case EventTypeCheckout:
		var v CheckoutPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventTypeReservation:
		var v ReservationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventTypeRepair:
		var v RepairPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case EventTypeCheckin:
		var v CheckinPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
	}
	return p, nil
}

// NewCheckoutPayload は貸出イベントからペイロードを作成します
func NewCheckoutPayload(e CheckoutEvent, hoursLate int) CheckoutPayload {
	return CheckoutPayload{
		CheckoutID:   e.CheckoutID,
		AssetName:    e.AssetName(),
		AssetIDs:     e.AssetIDs(),
		PersonName:   e.PersonName,
		PersonEmail:  e.PersonEmail,
		LocationName: e.LocationName,
		CheckoutTime: e.CheckoutTime,
		DueTime:      e.DueTime,
		Notes:        e.Notes,
		HoursLate:    hoursLate,
	}
}

// NewReservationPayload は予約イベントからペイロードを作成します
func NewReservationPayload(e ReservationEvent) ReservationPayload {
	return ReservationPayload{
		ReservationID: e.ReservationID,
		AssetName:     e.AssetName(),
		AssetIDs:      e.AssetIDs(),
		PersonName:    e.PersonName,
		PersonEmail:   e.PersonEmail,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		CreatedTime:   e.CreatedTime,
	}
}

// NewRepairPayload は修理イベントからペイロードを作成します
func NewRepairPayload(e RepairEvent) RepairPayload {
	return RepairPayload{
		RepairID:    e.RepairID,
		AssetID:     e.Asset.ID,
		AssetName:   e.Asset.Name,
		Category:    e.Asset.Category,
		Status:      e.Status,
		Description: e.Description,
		DueTime:     e.DueTime,
		RepairTime:  e.RepairTime,
	}
}

// NewCheckinPayload は返却イベントからペイロードを作成します
func NewCheckinPayload(e CheckinEvent) CheckinPayload {
	return CheckinPayload{
		CheckoutID:   e.CheckoutID,
		AssetID:      e.Asset.ID,
		AssetName:    e.Asset.Name,
		Category:     e.Asset.Category,
		PersonName:   e.PersonName,
		CheckoutTime: e.CheckoutTime,
		CheckinTime:  e.CheckinTime,
		DaysOut:      e.DaysOut(),
	}
}
