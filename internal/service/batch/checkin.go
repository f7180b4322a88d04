package batch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/dispatch"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/policy"
)

// detectCheckins は追跡中の貸出とスナップショットを突き合わせて返却を推定します
//
//   - 資産がスナップショットにあり、その貸出を持っていない: 返却
//   - 資産がスナップショットにない: 貸出を直接引き、見つからないか貸出中でなければ返却
//
// アーカイブ済みの資産も貸出を持っていれば貸出中として扱います
func (p *Poller) detectCheckins(
	ctx context.Context,
	logger *zap.Logger,
	assets []model.AssetSnapshot,
	active []model.ActiveCheckoutRecord,
	now time.Time,
	result *PollResult,
) {
	inSnapshot := make(map[string]model.AssetSnapshot, len(assets))
	for _, a := range assets {
		inSnapshot[a.ID] = a
	}

	// 同じ貸出IDの問い合わせは1サイクルに1回だけ
	lookedUp := map[string]bool{}

	for _, rec := range active {
		recLogger := logger.With(
			zap.String("event_type", string(model.EventTypeCheckin)),
			zap.String("event_id", model.CheckinEventID(rec.CheckoutID, rec.AssetID)),
			zap.String("asset_id", rec.AssetID),
		)

		a, ok := inSnapshot[rec.AssetID]
		if ok {
			if a.Checkout != nil && a.Checkout.ID == rec.CheckoutID {
				continue
			}
			if a.DisplayName != "" {
				rec.AssetName = a.DisplayName
			}
		} else {
			stillOut, checked := lookedUp[rec.CheckoutID]
			if !checked {
				var err error
				stillOut, err = p.checkedOut(ctx, rec.CheckoutID)
				if err != nil {
					recLogger.Warn("failed to look up checkout, will retry next cycle", zap.Error(err))
					p.countError(result, model.EventTypeCheckin)
					continue
				}
				lookedUp[rec.CheckoutID] = stillOut
			}
			if stillOut {
				continue
			}
		}

		p.completeCheckin(ctx, recLogger, rec, now, result)
	}
}

// checkedOut は貸出がまだ続いているかを直接問い合わせます
// 問い合わせ先がない場合は判断できないので貸出中とみなします
func (p *Poller) checkedOut(ctx context.Context, checkoutID string) (bool, error) {
	if p.lookup == nil {
		return true, nil
	}

	var details *model.CheckoutDetails
	err := utils.CallWithTimeout(ctx, p.fetchTimeout, func(ctx context.Context) error {
		var err error
		details, err = p.lookup.GetCheckoutDetails(ctx, checkoutID)
		return err
	})
	if err != nil {
		return false, err
	}
	if details == nil {
		return false, nil
	}
	return model.IsCheckedOut(details.Status), nil
}

// completeCheckin は返却を台帳に記録し、追跡表を完了にして管理者へ通知します
func (p *Poller) completeCheckin(ctx context.Context, logger *zap.Logger, rec model.ActiveCheckoutRecord, now time.Time, result *PollResult) {
	name := rec.AssetName
	if name == "" {
		name = rec.AssetID
	}
	ev := model.CheckinEvent{
		CheckoutID:   rec.CheckoutID,
		Asset:        model.AssetRef{ID: rec.AssetID, Name: name, Category: rec.Category},
		PersonName:   rec.PersonName,
		CheckoutTime: rec.CheckoutTime,
		CheckinTime:  now,
	}

	seen, err := p.ledger.Has(ctx, model.EventTypeCheckin, ev.EventID())
	if err != nil {
		logger.Error("failed to check ledger", zap.Error(err))
		p.countError(result, model.EventTypeCheckin)
		return
	}
	if seen {
		// 台帳には記録済みで追跡表だけ残っている。完了にして通知はしない
		if _, err := p.tracker.Complete(ctx, rec.AssetID, rec.CheckoutID, now); err != nil {
			logger.Error("failed to complete active checkout", zap.Error(err))
			p.countError(result, model.EventTypeCheckin)
		}
		return
	}

	payload := model.NewCheckinPayload(ev)
	subject, html, err := p.dispatcher.Renderer().CheckinNotification(payload)
	if err != nil {
		logger.Error("failed to render checkin notification", zap.Error(err))
		p.countError(result, model.EventTypeCheckin)
		return
	}

	claimed, err := p.ledger.Record(ctx, model.LedgerEntry{
		EventType:      model.EventTypeCheckin,
		EventID:        ev.EventID(),
		AssetID:        rec.AssetID,
		EventCreatedAt: now,
		ProcessedAt:    now,
	}, []string{rec.AssetID})
	if err != nil {
		logger.Error("failed to record ledger entry", zap.Error(err))
		p.countError(result, model.EventTypeCheckin)
		return
	}

	if _, err := p.tracker.Complete(ctx, rec.AssetID, rec.CheckoutID, now); err != nil {
		logger.Error("failed to complete active checkout", zap.Error(err))
		p.countError(result, model.EventTypeCheckin)
	}
	if !claimed {
		return
	}

	result.Checkins++
	p.metrics.IncEvent(string(model.EventTypeCheckin), policy.ActionSendConfirmation.String())
	logger.Info("checkin detected",
		zap.String("checkout_id", rec.CheckoutID),
		zap.Int("days_out", ev.DaysOut()),
	)
	p.deliver(ctx, logger, policy.ActionSendConfirmation, dispatch.Notification{
		EventType: model.EventTypeCheckin,
		EventID:   ev.EventID(),
		Message:   p.dispatcher.AdminMessage(subject, html),
		Payload:   payload,
		IsAdmin:   true,
	}, result)
}
