package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// EventType は台帳で重複排除に使うイベントの種類です
type EventType string

const (
	EventTypeCheckout    EventType = "checkout"
	EventTypeRepair      EventType = "repair"
	EventTypeCheckin     EventType = "checkin"
	EventTypeReservation EventType = "reservation"
)

var (
	// ErrNoAssets は資産が1件も紐付かない貸出を表します
	ErrNoAssets = errors.New("event has no resolvable assets")
	// ErrMissingEventID はIDのないイベントを表します
	ErrMissingEventID = errors.New("event has no id")
)

// AssetRef はイベントに含まれる資産の参照です
type AssetRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// CheckoutEvent は同じ貸出IDを持つ資産をまとめた1つの論理イベントです
type CheckoutEvent struct {
	CheckoutID   string
	Assets       []AssetRef
	PersonID     string // 空の場合はロケーションのみの貸出
	PersonName   string
	PersonEmail  string
	LocationName string
	CheckoutTime time.Time
	DueTime      *time.Time
	Notes        string
}

// HasPerson は利用者が紐付いているかを返します
func (e CheckoutEvent) HasPerson() bool {
	return e.PersonID != ""
}

// AssetIDs は資産IDを出現順に返します
func (e CheckoutEvent) AssetIDs() []string {
	return assetIDs(e.Assets)
}

// AssetName はメールの件名・本文に使う資産名です
func (e CheckoutEvent) AssetName() string {
	return assetNames(e.Assets)
}

// Validate は台帳に書き込む前にイベントの形を確認します
func (e CheckoutEvent) Validate() error {
	if e.CheckoutID == "" {
		return ErrMissingEventID
	}
	if len(e.Assets) == 0 {
		return ErrNoAssets
	}
	return nil
}

// RepairEvent は修理の発生を表すイベントです
type RepairEvent struct {
	RepairID    string
	Asset       AssetRef
	Status      string
	Description string
	DueTime     *time.Time
	RepairTime  *time.Time
}

// CreatedAt は台帳に記録するイベント発生時刻です
func (e RepairEvent) CreatedAt(now time.Time) time.Time {
	if e.RepairTime != nil {
		return *e.RepairTime
	}
	return now
}

// ReservationEvent は同じ予約IDを持つ資産をまとめたイベントです
type ReservationEvent struct {
	ReservationID string
	Assets        []AssetRef
	PersonID      string
	PersonName    string
	PersonEmail   string
	StartTime     *time.Time
	EndTime       *time.Time
	CreatedTime   time.Time
}

// HasPerson は利用者が紐付いているかを返します
func (e ReservationEvent) HasPerson() bool {
	return e.PersonID != ""
}

// AssetIDs は資産IDを出現順に返します
func (e ReservationEvent) AssetIDs() []string {
	return assetIDs(e.Assets)
}

// AssetName はメールの件名・本文に使う資産名です
func (e ReservationEvent) AssetName() string {
	return assetNames(e.Assets)
}

// Validate は台帳に書き込む前にイベントの形を確認します
func (e ReservationEvent) Validate() error {
	if e.ReservationID == "" {
		return ErrMissingEventID
	}
	if len(e.Assets) == 0 {
		return ErrNoAssets
	}
	return nil
}

// CheckinEvent は貸出中として追跡していた資産が返却されたことを表す推定イベントです
type CheckinEvent struct {
	CheckoutID   string
	Asset        AssetRef
	PersonName   string
	CheckoutTime time.Time
	CheckinTime  time.Time
}

// EventID は返却イベントの台帳キーです
// 共有貸出の資産は別々の日に返却されうるので資産ごとに分けます
func (e CheckinEvent) EventID() string {
	return CheckinEventID(e.CheckoutID, e.Asset.ID)
}

// DaysOut は貸出日数を四捨五入して返します
func (e CheckinEvent) DaysOut() int {
	return int(math.Round(e.CheckinTime.Sub(e.CheckoutTime).Hours() / 24))
}

// CheckinEventID は返却イベントの台帳キーを組み立てます
func CheckinEventID(checkoutID, assetID string) string {
	return fmt.Sprintf("%s:%s", checkoutID, assetID)
}

// Partition はスナップショットを派生イベントごとに分類した結果です
type Partition struct {
	Checkouts    []CheckoutEvent
	Repairs      []RepairEvent
	Reservations []ReservationEvent
}

// PartitionSnapshot はスナップショットを貸出ID・予約IDでまとめてイベントに分類します
// アーカイブ済みの資産から新しいイベントは作りません
// 返却はここでは扱いません
func PartitionSnapshot(assets []AssetSnapshot) Partition {
	var p Partition
	checkoutIndex := map[string]int{}
	reservationIndex := map[string]int{}

	for _, a := range assets {
		ref := AssetRef{ID: a.ID, Name: a.DisplayName, Category: a.Category}

		if a.Archived {
			continue
		}

		if co := a.Checkout; co != nil {
			i, ok := checkoutIndex[co.ID]
			if !ok {
				ev := CheckoutEvent{
					CheckoutID:   co.ID,
					LocationName: co.LocationName,
					CheckoutTime: co.CheckoutTime,
					DueTime:      co.DueTime,
					Notes:        co.Notes,
				}
				if co.Person != nil {
					ev.PersonID = co.Person.ID
					ev.PersonName = co.Person.Name
					ev.PersonEmail = co.Person.Email
				}
				p.Checkouts = append(p.Checkouts, ev)
				i = len(p.Checkouts) - 1
				checkoutIndex[co.ID] = i
			}
			p.Checkouts[i].Assets = appendAsset(p.Checkouts[i].Assets, ref)
		}

		if r := a.Repair; r != nil {
			p.Repairs = append(p.Repairs, RepairEvent{
				RepairID:    r.ID,
				Asset:       ref,
				Status:      r.Status,
				Description: r.Description,
				DueTime:     r.DueTime,
				RepairTime:  r.RepairTime,
			})
		}

		if rs := a.Reservation; rs != nil {
			i, ok := reservationIndex[rs.ID]
			if !ok {
				ev := ReservationEvent{
					ReservationID: rs.ID,
					StartTime:     rs.StartTime,
					EndTime:       rs.EndTime,
					CreatedTime:   rs.CreatedTime,
				}
				if rs.Person != nil {
					ev.PersonID = rs.Person.ID
					ev.PersonName = rs.Person.Name
					ev.PersonEmail = rs.Person.Email
				}
				p.Reservations = append(p.Reservations, ev)
				i = len(p.Reservations) - 1
				reservationIndex[rs.ID] = i
			}
			p.Reservations[i].Assets = appendAsset(p.Reservations[i].Assets, ref)
		}
	}

	return p
}

// 同じ資産が重複して返ってきても1件にまとめる
func appendAsset(assets []AssetRef, ref AssetRef) []AssetRef {
	if ref.ID == "" {
		return assets
	}
	for _, a := range assets {
		if a.ID == ref.ID {
			return assets
		}
	}
	return append(assets, ref)
}

func assetIDs(assets []AssetRef) []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	return ids
}

func assetNames(assets []AssetRef) string {
	names := make([]string, 0, len(assets))
	for _, a := range assets {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}
