package model

import (
	"errors"
	"testing"
	"time"
)

func TestPartitionSnapshot(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	person := &Person{ID: "p1", Name: "John Smith", Email: "john@example.com"}

	assets := []AssetSnapshot{
		{ID: "A1", DisplayName: "Canon EOS R5", Checkout: &CheckoutRecord{ID: "CO-1", Person: person, CheckoutTime: now}},
		{ID: "A2", DisplayName: "Tripod", Checkout: &CheckoutRecord{ID: "CO-1", Person: person, CheckoutTime: now}},
		{ID: "A3", DisplayName: "Drone", Repair: &RepairRecord{ID: "R-1", Status: "open"}},
		{ID: "A4", DisplayName: "Laptop"},
		{ID: "A5", DisplayName: "Projector", Reservation: &ReservationRecord{ID: "RS-1", Person: person, CreatedTime: now}},
		{ID: "A6", DisplayName: "Old Mic", Archived: true, Checkout: &CheckoutRecord{ID: "CO-9", CheckoutTime: now}},
		// 同じ資産が重複して返ってきた場合
		{ID: "A1", DisplayName: "Canon EOS R5", Checkout: &CheckoutRecord{ID: "CO-1", Person: person, CheckoutTime: now}},
	}

	p := PartitionSnapshot(assets)

	if len(p.Checkouts) != 1 {
		t.Fatalf("Expected 1 checkout event, got %d", len(p.Checkouts))
	}
	co := p.Checkouts[0]
	if co.CheckoutID != "CO-1" {
		t.Errorf("Expected checkout CO-1, got %s", co.CheckoutID)
	}
	if ids := co.AssetIDs(); len(ids) != 2 || ids[0] != "A1" || ids[1] != "A2" {
		t.Errorf("Expected assets [A1 A2], got %v", ids)
	}
	if co.AssetName() != "Canon EOS R5, Tripod" {
		t.Errorf("Unexpected asset name: %s", co.AssetName())
	}
	if !co.HasPerson() || co.PersonEmail != "john@example.com" {
		t.Errorf("Expected person to be set, got %+v", co)
	}

	if len(p.Repairs) != 1 || p.Repairs[0].RepairID != "R-1" || p.Repairs[0].Asset.ID != "A3" {
		t.Errorf("Unexpected repairs: %+v", p.Repairs)
	}
	if len(p.Reservations) != 1 || p.Reservations[0].ReservationID != "RS-1" {
		t.Errorf("Unexpected reservations: %+v", p.Reservations)
	}
}

func TestCheckoutEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   CheckoutEvent
		wantErr error
	}{
		{
			name:  "正常系",
			event: CheckoutEvent{CheckoutID: "CO-1", Assets: []AssetRef{{ID: "A1"}}},
		},
		{
			name:    "資産がない",
			event:   CheckoutEvent{CheckoutID: "CO-1"},
			wantErr: ErrNoAssets,
		},
		{
			name:    "IDがない",
			event:   CheckoutEvent{Assets: []AssetRef{{ID: "A1"}}},
			wantErr: ErrMissingEventID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckinEvent_DaysOut(t *testing.T) {
	checkout := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		checkin time.Time
		want    int
	}{
		{name: "同日", checkin: checkout.Add(3 * time.Hour), want: 0},
		{name: "半日で繰り上げ", checkin: checkout.Add(12 * time.Hour), want: 1},
		{name: "7日", checkin: checkout.Add(7*24*time.Hour + time.Hour), want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := CheckinEvent{CheckoutID: "CO-1", Asset: AssetRef{ID: "A1"}, CheckoutTime: checkout, CheckinTime: tt.checkin}
			if got := e.DaysOut(); got != tt.want {
				t.Errorf("DaysOut() = %d, want %d", got, tt.want)
			}
			if e.EventID() != "CO-1:A1" {
				t.Errorf("EventID() = %s", e.EventID())
			}
		})
	}
}

func TestIsCheckedOut(t *testing.T) {
	tests := map[string]bool{
		"checkedOut":  true,
		"Checked Out": true,
		"checked_out": true,
		"":            true,
		"checkedIn":   false,
		"returned":    false,
	}
	for status, want := range tests {
		if got := IsCheckedOut(status); got != want {
			t.Errorf("IsCheckedOut(%q) = %v, want %v", status, got, want)
		}
	}
}
