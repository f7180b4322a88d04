package policy

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestPolicy_Decide(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-3 * time.Hour)
	future := now.Add(48 * time.Hour)

	tests := []struct {
		name          string
		policy        Policy
		subject       Subject
		wantAction    Action
		wantLate      bool
		wantHoursLate int
	}{
		{
			name:       "新しい貸出は確認メール",
			policy:     Default(),
			subject:    Subject{HasPerson: true, CreatedAt: now},
			wantAction: ActionSendConfirmation,
		},
		{
			name:       "期限前の新しい貸出は確認メール",
			policy:     Default(),
			subject:    Subject{HasPerson: true, CreatedAt: now.Add(-59 * time.Minute), DueTime: &future},
			wantAction: ActionSendConfirmation,
		},
		{
			name:          "新しくても遅延していれば遅延通知",
			policy:        Default(),
			subject:       Subject{HasPerson: true, CreatedAt: now, DueTime: &past},
			wantAction:    ActionSendLateNotice,
			wantLate:      true,
			wantHoursLate: 3,
		},
		{
			name:          "古い遅延はスキップ",
			policy:        Default(),
			subject:       Subject{HasPerson: true, CreatedAt: now.Add(-2 * time.Hour), DueTime: &past},
			wantAction:    ActionSkipManual,
			wantLate:      true,
			wantHoursLate: 3,
		},
		{
			name:       "ちょうど1時間前はスキップ",
			policy:     Default(),
			subject:    Subject{HasPerson: true, CreatedAt: now.Add(-time.Hour)},
			wantAction: ActionSkipManual,
		},
		{
			name:          "ロケーションのみは送信しない",
			policy:        Default(),
			subject:       Subject{HasPerson: false, CreatedAt: now, DueTime: &past},
			wantAction:    ActionSuppress,
			wantLate:      true,
			wantHoursLate: 3,
		},
		{
			name:       "ロケーションのみも通知する設定",
			policy:     Policy{AutoSendWindow: time.Hour, NotifyLocationOnly: true},
			subject:    Subject{HasPerson: false, CreatedAt: now},
			wantAction: ActionSendConfirmation,
		},
		{
			name:       "猶予内は遅延にしない",
			policy:     Policy{AutoSendWindow: time.Hour, LateGrace: 4 * time.Hour},
			subject:    Subject{HasPerson: true, CreatedAt: now, DueTime: &past},
			wantAction: ActionSendConfirmation,
		},
		{
			name:       "時間枠を広げると古い貸出も送信",
			policy:     Policy{AutoSendWindow: 24 * time.Hour},
			subject:    Subject{HasPerson: true, CreatedAt: now.Add(-5 * time.Hour)},
			wantAction: ActionSendConfirmation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Decide(tt.subject, now)
			if got.Action != tt.wantAction {
				t.Errorf("Decide() action = %v, want %v", got.Action, tt.wantAction)
			}
			if got.IsLate != tt.wantLate {
				t.Errorf("Decide() isLate = %v, want %v", got.IsLate, tt.wantLate)
			}
			if got.HoursLate != tt.wantHoursLate {
				t.Errorf("Decide() hoursLate = %d, want %d", got.HoursLate, tt.wantHoursLate)
			}
		})
	}
}

// 判定表そのもの
func expectedAction(hasPerson, isLate, autoSend bool) Action {
	switch {
	case !hasPerson:
		return ActionSuppress
	case isLate && autoSend:
		return ActionSendLateNotice
	case !isLate && autoSend:
		return ActionSendConfirmation
	default:
		return ActionSkipManual
	}
}

func TestPolicy_DecideMatchesTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := Policy{
			AutoSendWindow: time.Duration(rapid.IntRange(1, 48*60).Draw(t, "windowMinutes")) * time.Minute,
			LateGrace:      time.Duration(rapid.IntRange(0, 120).Draw(t, "graceMinutes")) * time.Minute,
		}
		now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC).
			Add(time.Duration(rapid.Int64Range(-1e6, 1e6).Draw(t, "shiftSeconds")) * time.Second)

		hasPerson := rapid.Bool().Draw(t, "hasPerson")
		isLate := rapid.Bool().Draw(t, "isLate")
		autoSend := rapid.Bool().Draw(t, "autoSend")

		// autoSendの真偽に合わせて作成時刻を時間枠の内側か外側に置く
		var createdAt time.Time
		if autoSend {
			age := time.Duration(rapid.Int64Range(0, int64(p.AutoSendWindow)-1).Draw(t, "age"))
			createdAt = now.Add(-age)
		} else {
			age := p.AutoSendWindow + time.Duration(rapid.Int64Range(0, int64(72*time.Hour)).Draw(t, "age"))
			createdAt = now.Add(-age)
		}

		// isLateの真偽に合わせて期限を置く。期限なしも遅延なしとして扱う
		var due *time.Time
		if isLate {
			overdue := p.LateGrace + time.Second + time.Duration(rapid.Int64Range(0, int64(240*time.Hour)).Draw(t, "overdue"))
			d := now.Add(-overdue)
			due = &d
		} else if rapid.Bool().Draw(t, "hasDue") {
			d := now.Add(-p.LateGrace + time.Duration(rapid.Int64Range(0, int64(240*time.Hour)).Draw(t, "remaining")))
			due = &d
		}

		s := Subject{HasPerson: hasPerson, CreatedAt: createdAt, DueTime: due}
		got := p.Decide(s, now)

		if got.AutoSend != autoSend {
			t.Fatalf("autoSend = %v, want %v", got.AutoSend, autoSend)
		}
		if got.IsLate != isLate {
			t.Fatalf("isLate = %v, want %v", got.IsLate, isLate)
		}
		if want := expectedAction(hasPerson, isLate, autoSend); got.Action != want {
			t.Fatalf("action = %v, want %v", got.Action, want)
		}
		if again := p.Decide(s, now); again != got {
			t.Fatalf("Decide is not deterministic: %+v != %+v", again, got)
		}
	})
}
