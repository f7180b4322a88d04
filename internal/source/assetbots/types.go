package assetbots

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
)

// field はフラットな値と{id,type,value}で包まれた値の両方を受け取ります
// APIのバージョンによって返ってくる形が異なるためです
type field string

func (f *field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = field(s)
	case '{':
		var wrapped struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(b, &wrapped); err != nil {
			return err
		}
		if len(wrapped.Value) == 0 {
			*f = ""
			return nil
		}
		return f.UnmarshalJSON(wrapped.Value)
	default:
		// 数値や真偽値は文字列として保持する
		*f = field(strings.Trim(string(b), `"`))
	}
	return nil
}

func (f field) String() string { return string(f) }

func (f field) Bool() bool {
	v, _ := strconv.ParseBool(string(f))
	return v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Time は日時を解釈します。空や解釈できない値はnilです
func (f field) Time() *time.Time {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

type listResponse struct {
	Data []asset `json:"data"`
}

type checkoutResponse struct {
	Data *checkout `json:"data"`
}

type asset struct {
	ID          field        `json:"id"`
	Tag         field        `json:"tag"`
	Description field        `json:"description"`
	Category    *named       `json:"category"`
	Archived    field        `json:"archived"`
	Checkout    *checkout    `json:"checkout"`
	Repair      *repair      `json:"repair"`
	Reservation *reservation `json:"reservation"`
}

type named struct {
	ID   field `json:"id"`
	Name field `json:"name"`
}

type person struct {
	ID        field `json:"id"`
	Name      field `json:"name"`
	FirstName field `json:"firstName"`
	LastName  field `json:"lastName"`
	Email     field `json:"email"`
}

// unwrap は{id,type,value}で包まれたオブジェクトからidとvalueを取り出します
// valueを持たない場合、okはfalseです
func unwrap(b []byte) (id field, value json.RawMessage, ok bool, err error) {
	var wrapped struct {
		ID    field           `json:"id"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return "", nil, false, err
	}
	v := bytes.TrimSpace(wrapped.Value)
	if isNull(v) {
		return "", nil, false, nil
	}
	return wrapped.ID, v, true, nil
}

func isNull(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func (n *named) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		*n = named{}
		return nil
	}
	if b[0] != '{' {
		// 名前だけが値として入っている
		var name field
		if err := name.UnmarshalJSON(b); err != nil {
			return err
		}
		*n = named{Name: name}
		return nil
	}

	id, value, ok, err := unwrap(b)
	if err != nil {
		return err
	}
	if ok {
		if err := n.UnmarshalJSON(value); err != nil {
			return err
		}
		if n.ID == "" {
			n.ID = id
		}
		return nil
	}

	type plain named
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = named(v)
	return nil
}

func (p *person) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		*p = person{}
		return nil
	}
	if b[0] != '{' {
		var name field
		if err := name.UnmarshalJSON(b); err != nil {
			return err
		}
		*p = person{Name: name}
		return nil
	}

	id, value, ok, err := unwrap(b)
	if err != nil {
		return err
	}
	if ok {
		if err := p.UnmarshalJSON(value); err != nil {
			return err
		}
		if p.ID == "" {
			p.ID = id
		}
		return nil
	}

	type plain person
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = person(v)
	return nil
}

type checkout struct {
	ID          field   `json:"id"`
	Date        field   `json:"date"`
	CreatedDate field   `json:"createdDate"`
	DueDate     field   `json:"dueDate"`
	Location    *named  `json:"location"`
	Person      *person `json:"person"`
	Status      field   `json:"status"`
	Notes       field   `json:"notes"`
	Assets      []asset `json:"assets"`
}

type repair struct {
	ID          field `json:"id"`
	Status      field `json:"status"`
	Description field `json:"description"`
	DueDate     field `json:"dueDate"`
	RepairDate  field `json:"repairDate"`
}

type reservation struct {
	ID         field   `json:"id"`
	Person     *person `json:"person"`
	StartDate  field   `json:"startDate"`
	EndDate    field   `json:"endDate"`
	CreateDate field   `json:"createDate"`
}

// DisplayName はタグ、説明、IDの順で表示名を決めます
func (a asset) DisplayName() string {
	switch {
	case a.Tag != "":
		return a.Tag.String()
	case a.Description != "":
		return a.Description.String()
	default:
		return a.ID.String()
	}
}

func (p *person) toModel() *model.Person {
	if p == nil || p.ID == "" {
		return nil
	}
	name := strings.TrimSpace(fmt.Sprintf("%s %s", p.FirstName, p.LastName))
	if name == "" {
		name = p.Name.String()
	}
	if name == "" {
		name = "Unknown"
	}
	return &model.Person{ID: p.ID.String(), Name: name, Email: p.Email.String()}
}

func (a asset) toModel(now time.Time) model.AssetSnapshot {
	s := model.AssetSnapshot{
		ID:          a.ID.String(),
		DisplayName: a.DisplayName(),
		Archived:    a.Archived.Bool(),
	}
	if a.Category != nil {
		s.Category = a.Category.Name.String()
	}

	if co := a.Checkout; co != nil && co.ID != "" {
		checkoutTime := now
		if t := co.Date.Time(); t != nil {
			checkoutTime = *t
		} else if t := co.CreatedDate.Time(); t != nil {
			checkoutTime = *t
		}
		rec := &model.CheckoutRecord{
			ID:           co.ID.String(),
			Person:       co.Person.toModel(),
			CheckoutTime: checkoutTime,
			DueTime:      co.DueDate.Time(),
			Status:       co.Status.String(),
			Notes:        co.Notes.String(),
		}
		if co.Location != nil {
			rec.LocationName = co.Location.Name.String()
		}
		s.Checkout = rec
	}

	if r := a.Repair; r != nil && r.ID != "" {
		s.Repair = &model.RepairRecord{
			ID:          r.ID.String(),
			Status:      r.Status.String(),
			Description: r.Description.String(),
			DueTime:     r.DueDate.Time(),
			RepairTime:  r.RepairDate.Time(),
		}
	}

	if rs := a.Reservation; rs != nil && rs.ID != "" {
		created := now
		if t := rs.CreateDate.Time(); t != nil {
			created = *t
		}
		s.Reservation = &model.ReservationRecord{
			ID:          rs.ID.String(),
			Person:      rs.Person.toModel(),
			StartTime:   rs.StartDate.Time(),
			EndTime:     rs.EndDate.Time(),
			CreatedTime: created,
		}
	}

	return s
}

func (c *checkout) toDetails() *model.CheckoutDetails {
	d := &model.CheckoutDetails{ID: c.ID.String(), Status: c.Status.String()}
	for _, a := range c.Assets {
		if a.ID != "" {
			d.AssetIDs = append(d.AssetIDs, a.ID.String())
		}
	}
	return d
}
