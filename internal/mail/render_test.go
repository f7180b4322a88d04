package mail

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

type unknownPayload struct{}

func (unknownPayload) EventType() model.EventType { return "pickup" }

func TestRenderer_Render(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	checkout := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	due := time.Date(2025, 1, 22, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		payload     model.Payload
		wantSubject string
		wantBody    []string
	}{
		{
			name: "貸出確認",
			payload: model.CheckoutPayload{
				CheckoutID: "CO-1", AssetName: "Canon EOS R5", PersonName: "John Smith",
				CheckoutTime: checkout, DueTime: &due, Notes: "Handle with care",
			},
			wantSubject: "Checkout Confirmation: Canon EOS R5",
			wantBody:    []string{"John Smith", "January 15, 2025", "January 22, 2025", "Handle with care"},
		},
		{
			name:        "予約確認",
			payload:     model.ReservationPayload{ReservationID: "RS-1", AssetName: "Projector", PersonName: "Jane Doe", CreatedTime: checkout},
			wantSubject: "Reservation Confirmation: Projector",
			wantBody:    []string{"Jane Doe", "Projector"},
		},
		{
			name:        "修理通知",
			payload:     model.RepairPayload{RepairID: "R-1", AssetName: "Drone", Status: "open", Description: "Broken propeller"},
			wantSubject: "Repair Notification: Drone",
			wantBody:    []string{"Broken propeller", "open"},
		},
		{
			name: "返却通知",
			payload: model.CheckinPayload{
				CheckoutID: "CO-1", AssetName: "Canon EOS R5", PersonName: "John Smith",
				CheckoutTime: checkout, CheckinTime: due, DaysOut: 7,
			},
			wantSubject: "Checked In: Canon EOS R5",
			wantBody:    []string{"7 days", "John Smith"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, html, err := r.Render(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, subject)
			for _, want := range tt.wantBody {
				assert.Contains(t, html, want)
			}
		})
	}
}

func TestRenderer_LateNotice(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	due := time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)
	subject, html, err := r.LateNotice(model.CheckoutPayload{
		CheckoutID: "CO-1", AssetName: "Canon EOS R5", PersonName: "John Smith",
		PersonEmail: "john@example.com", CheckoutTime: due, DueTime: &due, HoursLate: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "[LATE] Checkout: Canon EOS R5", subject)
	assert.Contains(t, html, "3 hours")
	assert.Contains(t, html, "john@example.com")
}

func TestRenderer_EscapesHTML(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	_, html, err := r.CheckoutConfirmation(model.CheckoutPayload{AssetName: "<script>alert(1)</script>", PersonName: "x"})
	require.NoError(t, err)
	assert.False(t, strings.Contains(html, "<script>alert(1)</script>"))
}

func TestRenderer_UnknownPayload(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	_, _, err = r.Render(unknownPayload{})
	assert.True(t, errors.Is(err, model.ErrUnknownEventType))
}
