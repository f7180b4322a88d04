// Package policy は検知したイベントを誰に・いつ通知するかを決める純粋な判定ロジックです
// I/Oを持たず、同じ(イベント, 現在時刻)には常に同じ判定を返します
package policy

import (
	"math"
	"time"
)

const (
	// DefaultAutoSendWindow はこれより新しいイベントを自動送信する境界です
	DefaultAutoSendWindow = time.Hour
	// DefaultLateGrace は返却期限を過ぎてから遅延とみなすまでの猶予です
	DefaultLateGrace = time.Duration(0)
)

// Action は通知の判定結果です
type Action int

const (
	// ActionSuppress はメールを送らず台帳だけ書きます(ロケーションのみの貸出)
	ActionSuppress Action = iota
	// ActionSendConfirmation は利用者に確認メールを送り管理者をCcに入れます
	ActionSendConfirmation
	// ActionSendLateNotice は管理者に遅延通知を送ります
	ActionSendLateNotice
	// ActionSkipManual は送信せず手動送信が必要として監査ログに残します
	ActionSkipManual
)

func (a Action) String() string {
	switch a {
	case ActionSuppress:
		return "suppress"
	case ActionSendConfirmation:
		return "send_confirmation"
	case ActionSendLateNotice:
		return "send_late_notice"
	case ActionSkipManual:
		return "skip_manual"
	default:
		return "unknown"
	}
}

// Policy は通知ポリシーの設定値です
type Policy struct {
	AutoSendWindow time.Duration
	LateGrace      time.Duration
	// NotifyLocationOnly がtrueの場合、ロケーションのみの貸出も利用者ありと同じ表で判定します
	// 宛先は管理者になります
	NotifyLocationOnly bool
}

// Default は既定値のポリシーを返します
func Default() Policy {
	return Policy{
		AutoSendWindow: DefaultAutoSendWindow,
		LateGrace:      DefaultLateGrace,
	}
}

// Subject は判定に必要なイベントの属性です
type Subject struct {
	HasPerson bool
	CreatedAt time.Time
	DueTime   *time.Time
}

// Decision は判定結果と、その根拠になった値です
type Decision struct {
	Action    Action
	AutoSend  bool
	IsLate    bool
	HoursLate int
}

// Decide はイベントと現在時刻から通知の判定を返します
//
//	hasPerson | isLate | autoSend | action
//	true      | true   | true     | 管理者へ遅延通知
//	true      | true   | false    | スキップ(手動送信)
//	true      | false  | true     | 利用者へ確認メール(管理者Cc)
//	true      | false  | false    | スキップ(手動送信)
//	false     | -      | -        | 送信しない
func (p Policy) Decide(s Subject, now time.Time) Decision {
	d := Decision{
		AutoSend: p.IsAutoSend(s.CreatedAt, now),
	}
	d.IsLate, d.HoursLate = p.Lateness(s.DueTime, now)

	if !s.HasPerson && !p.NotifyLocationOnly {
		d.Action = ActionSuppress
		return d
	}

	switch {
	case d.IsLate && d.AutoSend:
		d.Action = ActionSendLateNotice
	case d.IsLate:
		d.Action = ActionSkipManual
	case d.AutoSend:
		d.Action = ActionSendConfirmation
	default:
		d.Action = ActionSkipManual
	}
	return d
}

// IsAutoSend はイベントが自動送信の時間枠内かを返します
func (p Policy) IsAutoSend(createdAt, now time.Time) bool {
	window := p.AutoSendWindow
	if window <= 0 {
		window = DefaultAutoSendWindow
	}
	return now.Sub(createdAt) < window
}

// Lateness は返却期限を過ぎているかと、期限からの経過時間(四捨五入)を返します
func (p Policy) Lateness(due *time.Time, now time.Time) (bool, int) {
	if due == nil || due.IsZero() {
		return false, 0
	}
	if !now.After(due.Add(p.LateGrace)) {
		return false, 0
	}
	return true, int(math.Round(now.Sub(*due).Hours()))
}
