package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	applog "github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/notify"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type ExecutionOutcome string

const (
	ExecutionSent      ExecutionOutcome = "sent"
	ExecutionTransient ExecutionOutcome = "transient"
	ExecutionHard      ExecutionOutcome = "hard"
	ExecutionDeferred  ExecutionOutcome = "deferred"
	ExecutionSkipped   ExecutionOutcome = "skipped"
)

type ExecutionResult struct {
	ItemID         uuid.UUID            `json:"item_id"`
	Outcome        ExecutionOutcome     `json:"outcome"`
	Rule           string               `json:"rule,omitempty"`
	Unrecognized   bool                 `json:"unrecognized,omitempty"`
	Detail         string               `json:"detail,omitempty"`
	ProspectStatus model.ProspectStatus `json:"prospect_status,omitempty"`
	NextAttempt    *time.Time           `json:"next_attempt,omitempty"`
}

type ExecutionBatchResult struct {
	Claimed      int               `json:"claimed"`
	Sent         int               `json:"sent"`
	Transient    int               `json:"transient"`
	Unrecognized int               `json:"unrecognized"`
	Hard         int               `json:"hard"`
	Deferred     int               `json:"deferred"`
	Skipped      int               `json:"skipped"`
	Errors       int               `json:"errors"`
	Failures     []ExecutionResult `json:"failures"`
}

// FollowUpScheduler is satisfied by *Scheduler.
type FollowUpScheduler interface {
	ScheduleFollowUps(ctx context.Context, req FollowUpRequest) (*ScheduleResult, error)
}

type Executor struct {
	Campaigns  repository.CampaignRepositoryInterface
	Prospects  repository.ProspectRepositoryInterface
	Queue      repository.SendQueueRepositoryInterface
	Accounts   repository.AccountRepositoryInterface
	Provider   provider.Client
	Classifier *Classifier
	FollowUps  FollowUpScheduler
	Notifier   notify.Notifier
	Clock      Clock
	Logger     *zap.Logger
	Metrics    metrics.Recorder

	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
	// Unavailable accounts and not-yet-accepted invitations wait this long.
	DeferFor time.Duration
}

const maxFailureSamples = 20

// Execute claims and runs one item. Items that are not pending or not yet
// due are skipped without side effects.
func (e *Executor) Execute(ctx context.Context, itemID uuid.UUID) (*ExecutionResult, error) {
	item, err := e.Queue.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	now := e.Clock.Now()
	if !item.Due(now) {
		return &ExecutionResult{
			ItemID:  itemID,
			Outcome: ExecutionSkipped,
			Detail:  fmt.Sprintf("item is %s, scheduled for %s", item.Status, item.ScheduledFor.Format(time.RFC3339)),
		}, nil
	}

	claimed, err := e.Queue.Claim(ctx, itemID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, "claim item")
	}
	if !claimed {
		return &ExecutionResult{ItemID: itemID, Outcome: ExecutionSkipped, Detail: "claimed by another executor"}, nil
	}
	item.Status = model.QueueStatusProcessing

	res, err := e.process(ctx, item)
	e.record(res, err)
	if err == nil && res.Unrecognized {
		e.alertUnrecognized(ctx, 1, []ExecutionResult{*res})
	}
	return res, err
}

// RunDue claims up to limit due items and executes them one by one. A
// failing item never aborts the batch.
func (e *Executor) RunDue(ctx context.Context, limit int) (*ExecutionBatchResult, error) {
	start := time.Now()
	items, err := e.Queue.ClaimDue(ctx, e.Clock.Now(), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, "claim due items")
	}

	batch := &ExecutionBatchResult{Claimed: len(items), Failures: []ExecutionResult{}}
	for _, item := range items {
		res, err := e.process(ctx, item)
		e.record(res, err)
		if err != nil {
			batch.Errors++
			e.logger().Error("execution failed", zap.String("item_id", item.ID.String()), zap.Error(err))
			continue
		}
		switch res.Outcome {
		case ExecutionSent:
			batch.Sent++
		case ExecutionTransient:
			batch.Transient++
			if res.Unrecognized {
				batch.Unrecognized++
			}
		case ExecutionHard:
			batch.Hard++
		case ExecutionDeferred:
			batch.Deferred++
		case ExecutionSkipped:
			batch.Skipped++
		}
		if (res.Outcome == ExecutionHard || res.Unrecognized) && len(batch.Failures) < maxFailureSamples {
			batch.Failures = append(batch.Failures, *res)
		}
	}

	e.recorder().RecordDuration("executor", "run_due", time.Since(start))
	e.alertUnrecognized(ctx, batch.Unrecognized, batch.Failures)
	e.logger().Info("executor batch complete",
		zap.Int("claimed", batch.Claimed),
		zap.Int("sent", batch.Sent),
		zap.Int("transient", batch.Transient),
		zap.Int("hard", batch.Hard),
		zap.Int("deferred", batch.Deferred),
		zap.Int("errors", batch.Errors),
	)
	return batch, nil
}

// process runs an item already in processing. Any infrastructure error
// before delivery hands the item back to pending.
func (e *Executor) process(ctx context.Context, item *model.SendQueueItem) (*ExecutionResult, error) {
	logger := e.logger().With(
		zap.String("item_id", item.ID.String()),
		zap.String("prospect_id", item.ProspectID.String()),
		zap.String("stage", string(item.Stage)),
	)

	campaign, err := e.Campaigns.GetByID(ctx, item.CampaignID)
	if err != nil {
		return nil, e.release(ctx, item, err)
	}
	prospect, err := e.Prospects.GetByID(ctx, item.ProspectID)
	if err != nil {
		return nil, e.release(ctx, item, err)
	}
	opening := isOpeningStage(campaign, item.Stage)

	if !opening {
		if prospect.Status.SequenceHalted() {
			return e.fail(ctx, item, prospect, false, Classification{
				Outcome: OutcomeHard,
				Rule:    "sequence_halted",
				Detail:  fmt.Sprintf("sequence halted: prospect is %s", prospect.Status),
			}, false)
		}
		if kind, _ := item.Stage.Parts(); kind == model.StageKindFollowUp && !prospect.Status.FollowUpReady() {
			return e.deferItem(ctx, item, prospect, false, "waiting for connection acceptance", e.Clock.Now().Add(e.deferFor()))
		}
	} else {
		ok, err := e.enterProcessing(ctx, prospect)
		if err != nil {
			return nil, e.release(ctx, item, err)
		}
		if !ok {
			return e.fail(ctx, item, prospect, false, Classification{
				Outcome: OutcomeHard,
				Rule:    "prospect_moved",
				Detail:  fmt.Sprintf("prospect is %s, expected queued", prospect.Status),
			}, false)
		}
	}

	account, err := e.Accounts.GetByID(ctx, item.AccountID)
	if err != nil && !appErrors.Is(err, appErrors.ErrNotFound) {
		return nil, e.release(ctx, item, err)
	}
	if account == nil || !account.Connected() {
		logger.Warn("sending account unavailable, deferring")
		return e.deferItem(ctx, item, prospect, opening, "sending account unavailable", e.Clock.Now().Add(e.deferFor()))
	}

	if limit := account.DailyLimitFor(item.Stage); limit > 0 {
		now := e.Clock.Now()
		sent, err := e.Queue.CountSentSince(ctx, account.ID, item.Stage.IsConnectionRequest(), startOfUTCDay(now))
		if err != nil {
			return nil, e.release(ctx, item, err)
		}
		if sent >= limit {
			next := startOfUTCDay(now).Add(24 * time.Hour)
			return e.deferItem(ctx, item, prospect, opening, fmt.Sprintf("daily limit of %d reached", limit), next)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	if !model.IsProviderID(item.Target) {
		target, err := e.resolveTarget(callCtx, account, item, prospect)
		if err != nil {
			return e.fail(ctx, item, prospect, opening, e.Classifier.Classify(err), true)
		}
		item.Target = target
	}

	if item.Stage.IsConnectionRequest() {
		_, err = e.Provider.SendInvitation(callCtx, account.ProviderAccountID, item.Target, item.Message)
	} else {
		_, err = e.Provider.SendMessage(callCtx, account.ProviderAccountID, item.Target, item.Message)
	}
	if err != nil {
		return e.fail(ctx, item, prospect, opening, e.Classifier.Classify(err), true)
	}

	return e.succeed(ctx, logger, campaign, account, item, prospect, opening)
}

func (e *Executor) enterProcessing(ctx context.Context, p *model.Prospect) (bool, error) {
	ok, err := e.Prospects.Transition(ctx, p.ID, []model.ProspectStatus{model.ProspectStatusQueued}, model.ProspectStatusProcessing)
	if err != nil || ok {
		if ok {
			p.Status = model.ProspectStatusProcessing
		}
		return ok, err
	}
	// The row exists but the prospect was never flipped to queued.
	from := model.TransitionSources(model.ProspectStatusQueued, schedulableStatuses...)
	if !containsStatus(from, p.Status) {
		return false, nil
	}
	if _, err := e.Prospects.Transition(ctx, p.ID, from, model.ProspectStatusQueued); err != nil {
		return false, err
	}
	ok, err = e.Prospects.Transition(ctx, p.ID, []model.ProspectStatus{model.ProspectStatusQueued}, model.ProspectStatusProcessing)
	if ok {
		p.Status = model.ProspectStatusProcessing
	}
	return ok, err
}

// resolveTarget turns a vanity or profile URL into a provider id and stores
// it on both the item and the prospect.
func (e *Executor) resolveTarget(
	ctx context.Context,
	account *model.OutreachAccount,
	item *model.SendQueueItem,
	prospect *model.Prospect,
) (string, error) {
	vanity, ok := model.VanityFromLocator(item.Target)
	if !ok {
		vanity, ok = model.VanityFromLocator(prospect.ProfileURL)
	}
	if !ok {
		return "", fmt.Errorf("unusable target identifier %q", item.Target)
	}

	profile, err := e.Provider.ResolveProfile(ctx, account.ProviderAccountID, vanity)
	if err != nil {
		return "", err
	}
	if err := e.Queue.SetTarget(ctx, item.ID, profile.ProviderID); err != nil {
		return "", err
	}
	if err := e.Prospects.UpdateProviderID(ctx, prospect.ID, profile.ProviderID); err != nil {
		e.logger().Warn("failed to store resolved provider id",
			zap.String("prospect_id", prospect.ID.String()), zap.Error(err))
	}
	return profile.ProviderID, nil
}

func (e *Executor) succeed(
	ctx context.Context,
	logger *zap.Logger,
	campaign *model.Campaign,
	account *model.OutreachAccount,
	item *model.SendQueueItem,
	prospect *model.Prospect,
	opening bool,
) (*ExecutionResult, error) {
	now := e.Clock.Now()
	sent, err := e.Queue.MarkSent(ctx, item.ID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, "mark item sent")
	}
	e.staleWrite(logger, sent, "mark item sent")

	status := item.Stage.SentStatus()
	e.moveProspect(ctx, logger, prospect, opening, status)

	if item.Stage.IsConnectionRequest() && e.FollowUps != nil {
		_, err := e.FollowUps.ScheduleFollowUps(ctx, FollowUpRequest{
			Campaign:  campaign,
			Prospect:  prospect,
			AccountID: account.ID,
			Target:    item.Target,
			From:      now,
		})
		if err != nil {
			logger.Error("failed to schedule follow-ups", zap.Error(err))
		}
	}

	logger.Info("item sent")
	return &ExecutionResult{ItemID: item.ID, Outcome: ExecutionSent, ProspectStatus: prospect.Status}, nil
}

// fail applies a classified failure. attempted marks a real provider call,
// which is the only thing that spends retry budget.
func (e *Executor) fail(
	ctx context.Context,
	item *model.SendQueueItem,
	prospect *model.Prospect,
	opening bool,
	c Classification,
	attempted bool,
) (*ExecutionResult, error) {
	logger := e.logger().With(zap.String("item_id", item.ID.String()), zap.String("rule", c.Rule))

	if attempted && c.Retryable() {
		if item.RetryCount+1 <= e.MaxRetries {
			next := e.Clock.Now().Add(e.backoff(item.RetryCount + 1))
			retried, err := e.Queue.MarkRetry(ctx, item.ID, next)
			if err != nil {
				return nil, appErrors.Wrap(err, "reschedule transient failure")
			}
			e.staleWrite(logger, retried, "reschedule transient failure")
			if opening {
				e.moveProspect(ctx, logger, prospect, opening, model.ProspectStatusQueued)
			}
			logger.Debug("transient failure, retry scheduled", zap.Time("next_attempt", next), zap.String("detail", c.Detail))
			return &ExecutionResult{
				ItemID:         item.ID,
				Outcome:        ExecutionTransient,
				Rule:           c.Rule,
				Unrecognized:   c.Outcome == OutcomeUnknown,
				Detail:         c.Detail,
				ProspectStatus: prospect.Status,
				NextAttempt:    &next,
			}, nil
		}
		status := model.ProspectStatusFailed
		if c.Throttled {
			status = model.ProspectStatusRateLimited
		}
		c = Classification{
			Outcome:        OutcomeHard,
			Rule:           "retry_budget_exhausted",
			ProspectStatus: status,
			Detail:         "retry budget exhausted: " + c.Detail,
		}
	}

	if c.ProspectStatus == "" {
		c.ProspectStatus = model.ProspectStatusFailed
	}
	failed, err := e.Queue.MarkFailed(ctx, item.ID, c.Detail)
	if err != nil {
		return nil, appErrors.Wrap(err, "mark item failed")
	}
	e.staleWrite(logger, failed, "mark item failed")
	if attempted || opening {
		e.moveProspect(ctx, logger, prospect, opening, c.ProspectStatus)
	}

	logger.Warn("hard failure", zap.String("detail", c.Detail))
	return &ExecutionResult{
		ItemID:         item.ID,
		Outcome:        ExecutionHard,
		Rule:           c.Rule,
		Detail:         c.Detail,
		ProspectStatus: prospect.Status,
	}, nil
}

// deferItem hands the item back without spending retry budget.
func (e *Executor) deferItem(
	ctx context.Context,
	item *model.SendQueueItem,
	prospect *model.Prospect,
	opening bool,
	reason string,
	next time.Time,
) (*ExecutionResult, error) {
	deferred, err := e.Queue.Defer(ctx, item.ID, next)
	if err != nil {
		return nil, appErrors.Wrap(err, "defer item")
	}
	e.staleWrite(e.logger().With(zap.String("item_id", item.ID.String())), deferred, "defer item")
	if opening {
		e.moveProspect(ctx, e.logger(), prospect, opening, model.ProspectStatusQueued)
	}
	return &ExecutionResult{
		ItemID:         item.ID,
		Outcome:        ExecutionDeferred,
		Detail:         reason,
		ProspectStatus: prospect.Status,
		NextAttempt:    &next,
	}, nil
}

// release puts the item back to pending after an infrastructure error so it
// does not sit in processing.
func (e *Executor) release(ctx context.Context, item *model.SendQueueItem, cause error) error {
	next := e.Clock.Now().Add(e.RetryBase)
	if _, err := e.Queue.Defer(ctx, item.ID, next); err != nil {
		e.logger().Error("failed to release item", zap.String("item_id", item.ID.String()), zap.Error(err))
	}
	return cause
}

// moveProspect applies a conditional transition from the status the
// executor last observed.
func (e *Executor) moveProspect(ctx context.Context, logger *zap.Logger, p *model.Prospect, opening bool, to model.ProspectStatus) {
	from := p.Status
	if opening {
		from = model.ProspectStatusProcessing
	}
	if from == to && to != model.ProspectStatusFollowUpSent {
		return
	}
	if !model.CanTransition(from, to) {
		logger.Debug("prospect transition not allowed, leaving status",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	ok, err := e.Prospects.Transition(ctx, p.ID, []model.ProspectStatus{from}, to)
	if err != nil {
		logger.Error("prospect transition failed", zap.String("to", string(to)), zap.Error(err))
		return
	}
	if !ok {
		logger.Warn("prospect status changed concurrently", zap.String("expected", string(from)), zap.String("to", string(to)))
		return
	}
	p.Status = to
}

// staleWrite notes a queue write that matched no row because the item left
// processing underneath the executor. The stored outcome is not retried.
func (e *Executor) staleWrite(logger *zap.Logger, ok bool, op string) {
	if ok {
		return
	}
	e.recorder().RecordOutcome("executor", "stale_write", 1)
	logger.Warn("queue item changed before the result was stored",
		zap.Error(appErrors.Wrap(appErrors.ErrStaleTransition, op)))
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := time.Duration(float64(e.RetryBase) * math.Pow(2, float64(attempt-1)))
	if e.RetryMax > 0 && (d > e.RetryMax || d <= 0) {
		return e.RetryMax
	}
	return d
}

// alertUnrecognized raises one alert per Execute or RunDue call that met
// errors outside the classification table.
func (e *Executor) alertUnrecognized(ctx context.Context, count int, failures []ExecutionResult) {
	if count == 0 || e.Notifier == nil {
		return
	}
	samples := []string{}
	for _, f := range failures {
		if f.Unrecognized {
			samples = append(samples, f.ItemID.String())
		}
	}
	err := e.Notifier.Notify(ctx, notify.Alert{
		Severity:  notify.SeverityWarning,
		Title:     "Unrecognized provider errors",
		Summary:   fmt.Sprintf("%d deliveries failed with errors outside the classification table and were retried", count),
		Count:     count,
		SampleIDs: samples,
	})
	if err != nil {
		e.logger().Warn("notification failed", zap.Error(err))
	}
}

func (e *Executor) record(res *ExecutionResult, err error) {
	if err != nil {
		e.recorder().RecordOutcome("executor", "error", 1)
		return
	}
	outcome := string(res.Outcome)
	if res.Unrecognized {
		outcome = "unrecognized"
	}
	e.recorder().RecordOutcome("executor", outcome, 1)
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return 30 * time.Second
	}
	return e.Timeout
}

func (e *Executor) deferFor() time.Duration {
	if e.DeferFor <= 0 {
		return time.Hour
	}
	return e.DeferFor
}

func (e *Executor) logger() *zap.Logger {
	return applog.OrNop(e.Logger)
}

func (e *Executor) recorder() metrics.Recorder {
	if e.Metrics == nil {
		return metrics.Nop{}
	}
	return e.Metrics
}
