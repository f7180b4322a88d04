// Package batch はスナップショットの取得からイベント検知、通知、台帳への記録までの1サイクルを担当します
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/common/utils"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/dispatch"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/guard"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/metrics"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/model"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/policy"
	"github.com/uma-arai/sbcntr-asset-notifier/internal/repository"
)

// SnapshotSource は資産の現在状態を返す外部コラボレーターです
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]model.AssetSnapshot, error)
}

// CheckoutLookup は貸出IDから貸出の現在状態を直接引く外部コラボレーターです
// スナップショットに出てこなくなった資産の返却判定に使います。見つからない場合はnilを返します
type CheckoutLookup interface {
	GetCheckoutDetails(ctx context.Context, checkoutID string) (*model.CheckoutDetails, error)
}

// PollResult は1サイクルの集計です
type PollResult struct {
	RunID        string    `json:"runId"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Skipped      bool      `json:"skipped"`
	Assets       int       `json:"assets"`
	Checkouts    int       `json:"checkouts"`
	Reservations int       `json:"reservations"`
	Repairs      int       `json:"repairs"`
	Checkins     int       `json:"checkins"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	ManualSend   int       `json:"manualSend"`
	Suppressed   int       `json:"suppressed"`
	Invalid      int       `json:"invalid"`
	Errors       int       `json:"errors"`
}

// Deps はPollerの依存です
type Deps struct {
	Source     SnapshotSource
	Lookup     CheckoutLookup // nilの場合、スナップショットにない資産の返却判定は行いません
	Ledger     repository.LedgerRepository
	Tracker    repository.ActiveCheckoutRepository
	Dispatcher *dispatch.Service
	Policy     policy.Policy
	Guard      guard.Guard
	Metrics    *metrics.Metrics
	Logger     *zap.Logger

	FetchTimeout time.Duration
	// Runから起動するポーリングのX-Rayセグメント名。空の場合はセグメントを開始しません
	TraceName    string
}

// Poller はスナップショットを差分検知して通知する照合ポーラーです
type Poller struct {
	source       SnapshotSource
	lookup       CheckoutLookup
	ledger       repository.LedgerRepository
	tracker      repository.ActiveCheckoutRepository
	dispatcher   *dispatch.Service
	policy       policy.Policy
	guard        guard.Guard
	metrics      *metrics.Metrics
	logger       *zap.Logger
	fetchTimeout time.Duration
	traceName    string
	now          func() time.Time
}

// NewPoller は新しいPollerを作成します
func NewPoller(d Deps) (*Poller, error) {
	if d.Source == nil || d.Ledger == nil || d.Tracker == nil || d.Dispatcher == nil {
		return nil, errors.New("poller: source, ledger, tracker and dispatcher are required")
	}
	if d.Guard == nil {
		d.Guard = guard.NewLocalGuard()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Poller{
		source:       d.Source,
		lookup:       d.Lookup,
		ledger:       d.Ledger,
		tracker:      d.Tracker,
		dispatcher:   d.Dispatcher,
		policy:       d.Policy,
		guard:        d.Guard,
		metrics:      d.Metrics,
		logger:       d.Logger.Named("poller"),
		fetchTimeout: d.FetchTimeout,
		traceName:    d.TraceName,
		now:          time.Now,
	}, nil
}

// Run は起動直後に1回ポーリングし、その後intervalごとに繰り返します
// 前回のポーリングが終わっていないティックはガードで見送られます
func (p *Poller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poller: interval must be positive, got %v", interval)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.pollAndLog(ctx)
		}()
	}

	p.logger.Info("poller started", zap.Duration("interval", interval))
	tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// pollAndLog はタイマーから起動されるポーリングです
// 呼び出し元のセグメントがないため、ここでルートセグメントを開始します
func (p *Poller) pollAndLog(ctx context.Context) {
	var seg *xray.Segment
	if p.traceName != "" {
		ctx, seg = xray.BeginSegment(ctx, p.traceName)
	}

	_, err := p.Poll(ctx)
	if seg != nil {
		seg.Close(err)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("poll failed", zap.Error(err))
	}
}

// Poll は1サイクル分の照合を行います
// 別のポーリングが実行中の場合は何もせずSkippedを返します
// 個々のイベントの失敗はログに残してサイクルを続行し、スナップショットの取得失敗などサイクル全体の失敗だけをエラーで返します
func (p *Poller) Poll(ctx context.Context) (PollResult, error) {
	result := PollResult{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	logger := p.logger.With(zap.String("run_id", result.RunID))

	release, ok, err := p.guard.TryAcquire(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire poll guard: %w", err)
	}
	if !ok {
		logger.Info("poll already in progress, skipping")
		result.Skipped = true
		result.FinishedAt = p.now()
		p.metrics.ObservePoll(metrics.CycleOutcomeSkipped, 0, result.FinishedAt)
		return result, nil
	}
	defer release()

	ctx, seg := utils.BeginSubsegment(ctx, "Poller.Poll")
	err = p.poll(ctx, logger, &result)
	utils.AddMetadata(seg, "result", result)
	utils.CloseSegment(seg, err)

	result.FinishedAt = p.now()
	duration := result.FinishedAt.Sub(result.StartedAt)
	if err != nil {
		p.metrics.ObservePoll(metrics.CycleOutcomeFailure, duration, result.FinishedAt)
		return result, err
	}
	p.metrics.ObservePoll(metrics.CycleOutcomeSuccess, duration, result.FinishedAt)

	logger.Info("poll completed",
		zap.Duration("duration", duration),
		zap.Int("assets", result.Assets),
		zap.Int("checkouts", result.Checkouts),
		zap.Int("reservations", result.Reservations),
		zap.Int("repairs", result.Repairs),
		zap.Int("checkins", result.Checkins),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("manual_send", result.ManualSend),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

func (p *Poller) poll(ctx context.Context, logger *zap.Logger, result *PollResult) error {
	var assets []model.AssetSnapshot
	err := utils.CallWithTimeout(ctx, p.fetchTimeout, func(ctx context.Context) error {
		var err error
		assets, err = p.source.Snapshot(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	result.Assets = len(assets)
	p.metrics.SetSnapshotAssets(len(assets))

	active, err := p.tracker.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active checkouts: %w", err)
	}

	now := p.now()
	part := model.PartitionSnapshot(assets)
	logger.Debug("snapshot partitioned",
		zap.Int("assets", len(assets)),
		zap.Int("checkouts", len(part.Checkouts)),
		zap.Int("reservations", len(part.Reservations)),
		zap.Int("repairs", len(part.Repairs)),
	)

	for _, ev := range part.Checkouts {
		p.processCheckout(ctx, logger, ev, now, result)
	}
	for _, ev := range part.Reservations {
		p.processReservation(ctx, logger, ev, now, result)
	}
	for _, ev := range part.Repairs {
		p.processRepair(ctx, logger, ev, now, result)
	}
	p.detectCheckins(ctx, logger, assets, active, now, result)

	if remaining, err := p.tracker.ListActive(ctx); err == nil {
		p.metrics.SetActiveCheckouts(len(remaining))
	}
	return nil
}

// processCheckout は貸出イベントを追跡表に反映し、未処理であれば判定して通知します
func (p *Poller) processCheckout(ctx context.Context, logger *zap.Logger, ev model.CheckoutEvent, now time.Time, result *PollResult) {
	logger = logger.With(
		zap.String("event_type", string(model.EventTypeCheckout)),
		zap.String("event_id", ev.CheckoutID),
		zap.Strings("asset_ids", ev.AssetIDs()),
	)

	if err := ev.Validate(); err != nil {
		logger.Warn("invalid checkout, skipping", zap.Error(err))
		result.Invalid++
		p.metrics.IncEventError(string(model.EventTypeCheckout))
		return
	}

	// 追跡表は台帳の状態にかかわらず、見えている間は毎回反映する
	for _, a := range ev.Assets {
		err := p.tracker.UpsertActive(ctx, model.ActiveCheckoutRecord{
			AssetID:      a.ID,
			CheckoutID:   ev.CheckoutID,
			CheckoutTime: ev.CheckoutTime,
			AssetName:    a.Name,
			PersonName:   personOrLocation(ev.PersonName, ev.LocationName),
			Category:     a.Category,
		})
		if err != nil {
			logger.Error("failed to track active checkout", zap.String("asset_id", a.ID), zap.Error(err))
			p.countError(result, model.EventTypeCheckout)
		}
	}

	seen, err := p.ledger.Has(ctx, model.EventTypeCheckout, ev.CheckoutID)
	if err != nil {
		logger.Error("failed to check ledger", zap.Error(err))
		p.countError(result, model.EventTypeCheckout)
		return
	}
	if seen {
		return
	}

	decision := p.policy.Decide(policy.Subject{
		HasPerson: ev.HasPerson(),
		CreatedAt: ev.CheckoutTime,
		DueTime:   ev.DueTime,
	}, now)
	payload := model.NewCheckoutPayload(ev, decision.HoursLate)

	n := dispatch.Notification{
		EventType: model.EventTypeCheckout,
		EventID:   ev.CheckoutID,
		Payload:   payload,
		IsLate:    decision.IsLate,
	}
	if decision.Action != policy.ActionSuppress {
		renderer := p.dispatcher.Renderer()
		if decision.Action == policy.ActionSendLateNotice {
			subject, html, err := renderer.LateNotice(payload)
			if err != nil {
				logger.Error("failed to render late notice", zap.Error(err))
				p.countError(result, model.EventTypeCheckout)
				return
			}
			n.Message = p.dispatcher.AdminMessage(subject, html)
			n.IsAdmin = true
		} else {
			subject, html, err := renderer.CheckoutConfirmation(payload)
			if err != nil {
				logger.Error("failed to render checkout confirmation", zap.Error(err))
				p.countError(result, model.EventTypeCheckout)
				return
			}
			n.Message, n.IsAdmin = p.dispatcher.ConfirmationMessage(ev.PersonEmail, subject, html)
		}
	}

	claimed, err := p.ledger.Record(ctx, model.LedgerEntry{
		EventType:      model.EventTypeCheckout,
		EventID:        ev.CheckoutID,
		AssetID:        ev.Assets[0].ID,
		EventCreatedAt: ev.CheckoutTime,
		ProcessedAt:    now,
	}, ev.AssetIDs())
	if err != nil {
		logger.Error("failed to record ledger entry", zap.Error(err))
		p.countError(result, model.EventTypeCheckout)
		return
	}
	if !claimed {
		logger.Info("checkout already claimed by another poller")
		return
	}

	result.Checkouts++
	p.metrics.IncEvent(string(model.EventTypeCheckout), decision.Action.String())
	logger.Info("new checkout detected",
		zap.String("action", decision.Action.String()),
		zap.Bool("is_late", decision.IsLate),
		zap.Int("hours_late", decision.HoursLate),
	)
	p.deliver(ctx, logger, decision.Action, n, result)
}

// processReservation は予約イベントを判定して通知します。予約に返却期限はありません
func (p *Poller) processReservation(ctx context.Context, logger *zap.Logger, ev model.ReservationEvent, now time.Time, result *PollResult) {
	logger = logger.With(
		zap.String("event_type", string(model.EventTypeReservation)),
		zap.String("event_id", ev.ReservationID),
		zap.Strings("asset_ids", ev.AssetIDs()),
	)

	if err := ev.Validate(); err != nil {
		logger.Warn("invalid reservation, skipping", zap.Error(err))
		result.Invalid++
		p.metrics.IncEventError(string(model.EventTypeReservation))
		return
	}

	seen, err := p.ledger.Has(ctx, model.EventTypeReservation, ev.ReservationID)
	if err != nil {
		logger.Error("failed to check ledger", zap.Error(err))
		p.countError(result, model.EventTypeReservation)
		return
	}
	if seen {
		return
	}

	decision := p.policy.Decide(policy.Subject{
		HasPerson: ev.HasPerson(),
		CreatedAt: ev.CreatedTime,
	}, now)
	payload := model.NewReservationPayload(ev)

	n := dispatch.Notification{
		EventType: model.EventTypeReservation,
		EventID:   ev.ReservationID,
		Payload:   payload,
	}
	if decision.Action != policy.ActionSuppress {
		subject, html, err := p.dispatcher.Renderer().ReservationConfirmation(payload)
		if err != nil {
			logger.Error("failed to render reservation confirmation", zap.Error(err))
			p.countError(result, model.EventTypeReservation)
			return
		}
		n.Message, n.IsAdmin = p.dispatcher.ConfirmationMessage(ev.PersonEmail, subject, html)
	}

	claimed, err := p.ledger.Record(ctx, model.LedgerEntry{
		EventType:      model.EventTypeReservation,
		EventID:        ev.ReservationID,
		AssetID:        ev.Assets[0].ID,
		EventCreatedAt: ev.CreatedTime,
		ProcessedAt:    now,
	}, ev.AssetIDs())
	if err != nil {
		logger.Error("failed to record ledger entry", zap.Error(err))
		p.countError(result, model.EventTypeReservation)
		return
	}
	if !claimed {
		return
	}

	result.Reservations++
	p.metrics.IncEvent(string(model.EventTypeReservation), decision.Action.String())
	logger.Info("new reservation detected", zap.String("action", decision.Action.String()))
	p.deliver(ctx, logger, decision.Action, n, result)
}

// processRepair は修理イベントを管理者に通知します
func (p *Poller) processRepair(ctx context.Context, logger *zap.Logger, ev model.RepairEvent, now time.Time, result *PollResult) {
	logger = logger.With(
		zap.String("event_type", string(model.EventTypeRepair)),
		zap.String("event_id", ev.RepairID),
		zap.String("asset_id", ev.Asset.ID),
	)

	if ev.RepairID == "" {
		logger.Warn("invalid repair, skipping", zap.Error(model.ErrMissingEventID))
		result.Invalid++
		p.metrics.IncEventError(string(model.EventTypeRepair))
		return
	}

	seen, err := p.ledger.Has(ctx, model.EventTypeRepair, ev.RepairID)
	if err != nil {
		logger.Error("failed to check ledger", zap.Error(err))
		p.countError(result, model.EventTypeRepair)
		return
	}
	if seen {
		return
	}

	payload := model.NewRepairPayload(ev)
	subject, html, err := p.dispatcher.Renderer().RepairNotification(payload)
	if err != nil {
		logger.Error("failed to render repair notification", zap.Error(err))
		p.countError(result, model.EventTypeRepair)
		return
	}

	claimed, err := p.ledger.Record(ctx, model.LedgerEntry{
		EventType:      model.EventTypeRepair,
		EventID:        ev.RepairID,
		AssetID:        ev.Asset.ID,
		EventCreatedAt: ev.CreatedAt(now),
		ProcessedAt:    now,
	}, []string{ev.Asset.ID})
	if err != nil {
		logger.Error("failed to record ledger entry", zap.Error(err))
		p.countError(result, model.EventTypeRepair)
		return
	}
	if !claimed {
		return
	}

	result.Repairs++
	p.metrics.IncEvent(string(model.EventTypeRepair), policy.ActionSendConfirmation.String())
	logger.Info("new repair detected", zap.String("status", ev.Status))
	p.deliver(ctx, logger, policy.ActionSendConfirmation, dispatch.Notification{
		EventType: model.EventTypeRepair,
		EventID:   ev.RepairID,
		Message:   p.dispatcher.AdminMessage(subject, html),
		Payload:   payload,
		IsAdmin:   true,
	}, result)
}

// deliver は判定に従って送信、手動送信待ちとしての記録、または何もしないのいずれかを行います
func (p *Poller) deliver(ctx context.Context, logger *zap.Logger, action policy.Action, n dispatch.Notification, result *PollResult) {
	switch action {
	case policy.ActionSuppress:
		logger.Info("notification suppressed for location-only event")
		result.Suppressed++
	case policy.ActionSkipManual:
		if _, err := p.dispatcher.Skip(ctx, n); err != nil {
			logger.Error("failed to record skipped notification", zap.Error(err))
			p.countError(result, n.EventType)
			return
		}
		result.ManualSend++
	default:
		if _, err := p.dispatcher.Notify(ctx, n); err != nil {
			// 送信失敗はfailedとして記録済み。台帳は巻き戻さず、再送で対応する
			logger.Warn("notification not delivered", zap.Error(err))
			result.Failed++
			return
		}
		result.Sent++
	}
}

func (p *Poller) countError(result *PollResult, eventType model.EventType) {
	result.Errors++
	p.metrics.IncEventError(string(eventType))
}

func personOrLocation(person, location string) string {
	if person != "" {
		return person
	}
	return location
}
