package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

const dateLayout = "January 2, 2006"

// Renderer はイベントのペイロードからメールの件名と本文を組み立てます
type Renderer struct {
	tmpl     *template.Template
	location *time.Location
}

// NewRenderer は埋め込みテンプレートを読み込みます
// locがnilの場合はUTCで日付を表示します
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := &Renderer{location: loc}

	tmpl, err := template.New("mail").Funcs(template.FuncMap{
		"date": r.formatDate,
		"pair": func(label string, value interface{}) []interface{} {
			return []interface{}{label, value}
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}
	r.tmpl = tmpl
	return r, nil
}

// Render はペイロードの種類に応じた確認・通知メールを組み立てます
// 再送はここを通るので、遅延通知ではなく本来の確認メールになります
func (r *Renderer) Render(p model.Payload) (subject, html string, err error) {
	switch v := p.(type) {
	case model.CheckoutPayload:
		return r.CheckoutConfirmation(v)
	case model.ReservationPayload:
		return r.ReservationConfirmation(v)
	case model.RepairPayload:
		return r.RepairNotification(v)
	case model.CheckinPayload:
		return r.CheckinNotification(v)
	default:
		return "", "", fmt.Errorf("%w: %T", model.ErrUnknownEventType, p)
	}
}

// CheckoutConfirmation は利用者向けの貸出確認メールです
func (r *Renderer) CheckoutConfirmation(p model.CheckoutPayload) (string, string, error) {
	html, err := r.execute("checkout_confirmation", "Checkout Confirmation", p)
	return "Checkout Confirmation: " + p.AssetName, html, err
}

// LateNotice は管理者向けの遅延通知メールです
func (r *Renderer) LateNotice(p model.CheckoutPayload) (string, string, error) {
	html, err := r.execute("late_notice", "Late Checkout Detected", p)
	return "[LATE] Checkout: " + p.AssetName, html, err
}

// ReservationConfirmation は利用者向けの予約確認メールです
func (r *Renderer) ReservationConfirmation(p model.ReservationPayload) (string, string, error) {
	html, err := r.execute("reservation_confirmation", "Reservation Confirmation", p)
	return "Reservation Confirmation: " + p.AssetName, html, err
}

// RepairNotification は管理者向けの修理通知メールです
func (r *Renderer) RepairNotification(p model.RepairPayload) (string, string, error) {
	html, err := r.execute("repair_notification", "Asset Sent for Repair", p)
	return "Repair Notification: " + p.AssetName, html, err
}

// CheckinNotification は管理者向けの返却通知メールです
func (r *Renderer) CheckinNotification(p model.CheckinPayload) (string, string, error) {
	html, err := r.execute("checkin_notification", "Asset Checked In", p)
	return "Checked In: " + p.AssetName, html, err
}

type templateData struct {
	Title string
	Data  interface{}
}

func (r *Renderer) execute(name, title string, data interface{}) (string, error) {
	var buf bytes.Buffer
	err := r.tmpl.ExecuteTemplate(&buf, name, templateData{Title: title, Data: data})
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// formatDate はtime.Timeと*time.Timeの両方を受け取ります
func (r *Renderer) formatDate(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.In(r.location).Format(dateLayout)
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.In(r.location).Format(dateLayout)
	default:
		return ""
	}
}
