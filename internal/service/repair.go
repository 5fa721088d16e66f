package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	applog "github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// identifierFailurePattern matches the provider rejection for a target that
// is not a provider id.
const identifierFailurePattern = "%does not match%expected format%"

const maxRepairSamples = 10

const defaultRepairAttempts = 3

// RepairOutcome describes one repair pass.
type RepairOutcome struct {
	Name      string      `json:"name"`
	Examined  int         `json:"examined"`
	Repaired  int         `json:"repaired"`
	Failed    int         `json:"failed"`
	SampleIDs []uuid.UUID `json:"sample_ids"`
	Errors    []string    `json:"errors"`
}

func newRepairOutcome(name string) *RepairOutcome {
	return &RepairOutcome{Name: name, SampleIDs: []uuid.UUID{}, Errors: []string{}}
}

func (o *RepairOutcome) repaired(id uuid.UUID) {
	o.Repaired++
	if len(o.SampleIDs) < maxRepairSamples {
		o.SampleIDs = append(o.SampleIDs, id)
	}
}

func (o *RepairOutcome) failed(id uuid.UUID, err error) {
	o.Failed++
	if len(o.Errors) < maxRepairSamples {
		o.Errors = append(o.Errors, fmt.Sprintf("%s: %v", id, err))
	}
}

// Repairer holds the fixes shared by the reconciliation sweep and the
// campaign validator. Every write is conditional, so running a repair twice
// changes nothing the second time.
type Repairer struct {
	Campaigns repository.CampaignRepositoryInterface
	Prospects repository.ProspectRepositoryInterface
	Queue     repository.SendQueueRepositoryInterface
	Accounts  repository.AccountRepositoryInterface
	Provider  provider.Client
	Scheduler *Scheduler
	Spacer    *Spacer
	Clock     Clock
	Logger    *zap.Logger
	Timeout   time.Duration
	// MaxAttempts bounds how many passes may look at one failed row before
	// it is left failed for good.
	MaxAttempts int
}

// RepairIdentifierFailures resets failed rows rejected for a malformed
// target. A target that already is a provider id is reset unchanged;
// otherwise the vanity is resolved through the row's own account first.
// A row is reset at most once. Rows that cannot be reset yet are touched so
// the next pass starts with the rest of the backlog.
func (r *Repairer) RepairIdentifierFailures(ctx context.Context, limit int) (*RepairOutcome, error) {
	out := newRepairOutcome("identifier_format")
	items, err := r.Queue.ListFailedMatching(ctx, identifierFailurePattern, r.attemptLimit(), limit)
	if err != nil {
		return out, err
	}

	now := r.Clock.Now()
	cursors := map[uuid.UUID]*slotCursor{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Examined++

		active, err := r.Queue.FindActive(ctx, item.ProspectID, item.Stage)
		if err != nil {
			out.failed(item.ID, err)
			continue
		}
		if active != nil {
			r.noteAttempt(ctx, item)
			continue
		}

		target, err := r.stableTarget(ctx, item)
		if err != nil {
			r.noteAttempt(ctx, item)
			out.failed(item.ID, err)
			continue
		}

		cursor, ok := cursors[item.AccountID]
		if !ok {
			latest, err := r.Queue.LatestPendingSlot(ctx, item.AccountID)
			if err != nil {
				out.failed(item.ID, err)
				continue
			}
			cursor = newSlotCursor(r.Spacer, now, latest)
			cursors[item.AccountID] = cursor
		}
		mark := cursor.mark()
		slot := cursor.Next()
		reset, err := r.Queue.ResetFailed(ctx, item.ID, target, slot)
		if err != nil {
			cursor.rewind(mark)
			out.failed(item.ID, err)
			continue
		}
		if !reset {
			cursor.rewind(mark)
			continue
		}

		r.requeueProspect(ctx, item)
		r.logger().Info("identifier failure repaired",
			zap.String("item_id", item.ID.String()),
			zap.String("before", item.Target),
			zap.String("after", target),
			zap.Time("scheduled_for", slot),
		)
		out.repaired(item.ID)
	}
	return out, nil
}

// UnrepairableIdentifierFailures counts rows the identifier repair no longer
// picks up: already reset once, or out of attempts.
func (r *Repairer) UnrepairableIdentifierFailures(ctx context.Context) (int, error) {
	return r.Queue.CountUnrepairable(ctx, identifierFailurePattern, r.attemptLimit())
}

func (r *Repairer) noteAttempt(ctx context.Context, item *model.SendQueueItem) {
	if _, err := r.Queue.NoteRepairAttempt(ctx, item.ID); err != nil {
		r.logger().Warn("failed to record repair attempt",
			zap.String("item_id", item.ID.String()), zap.Error(err))
	}
}

func (r *Repairer) stableTarget(ctx context.Context, item *model.SendQueueItem) (string, error) {
	if model.IsProviderID(item.Target) {
		return item.Target, nil
	}

	prospect, err := r.Prospects.GetByID(ctx, item.ProspectID)
	if err != nil {
		return "", err
	}
	if model.IsProviderID(prospect.ProviderID) {
		return prospect.ProviderID, nil
	}
	vanity, ok := model.VanityFromLocator(item.Target)
	if !ok {
		vanity, ok = model.VanityFromLocator(prospect.ProfileURL)
	}
	if !ok {
		return "", fmt.Errorf("no vanity in target %q", item.Target)
	}

	account, err := r.Accounts.GetByID(ctx, item.AccountID)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	profile, err := r.Provider.ResolveProfile(callCtx, account.ProviderAccountID, vanity)
	if err != nil {
		return "", err
	}
	if err := r.Prospects.UpdateProviderID(ctx, prospect.ID, profile.ProviderID); err != nil {
		r.logger().Warn("failed to store resolved provider id",
			zap.String("prospect_id", prospect.ID.String()), zap.Error(err))
	}
	return profile.ProviderID, nil
}

// requeueProspect puts the prospect of a reset opening-stage row back to queued.
func (r *Repairer) requeueProspect(ctx context.Context, item *model.SendQueueItem) {
	campaign, err := r.Campaigns.GetByID(ctx, item.CampaignID)
	if err != nil || !isOpeningStage(campaign, item.Stage) {
		return
	}
	from := []model.ProspectStatus{model.ProspectStatusFailed, model.ProspectStatusRateLimited}
	if _, err := r.Prospects.Transition(ctx, item.ProspectID, from, model.ProspectStatusQueued); err != nil {
		r.logger().Error("failed to requeue prospect",
			zap.String("prospect_id", item.ProspectID.String()), zap.Error(err))
	}
}

// EnqueueUnqueued schedules the opening stage for the approved prospects of
// a campaign that have no queue row. Other statuses are left alone.
func (r *Repairer) EnqueueUnqueued(ctx context.Context, campaign *model.Campaign, prospects []*model.Prospect) (*RepairOutcome, error) {
	out := newRepairOutcome("unqueued_approved")
	approved := make([]*model.Prospect, 0, len(prospects))
	for _, p := range prospects {
		if p.Status == model.ProspectStatusApproved {
			approved = append(approved, p)
		}
	}
	out.Examined = len(approved)
	if len(approved) == 0 {
		return out, nil
	}

	stage, ok := campaign.InitialStage()
	if !ok {
		return out, fmt.Errorf("campaign %s has no opening stage", campaign.ID)
	}
	tmpl, ok := campaign.TemplateFor(stage)
	if !ok {
		return out, fmt.Errorf("campaign %s has no %s template", campaign.ID, stage)
	}

	res, err := r.Scheduler.Schedule(ctx, ScheduleRequest{
		Campaign:  campaign,
		Template:  tmpl,
		Stage:     stage,
		Prospects: approved,
	})
	if err != nil {
		out.Failed = len(approved)
		out.Errors = append(out.Errors, err.Error())
		return out, err
	}
	for _, s := range res.Scheduled {
		out.repaired(s.ProspectID)
	}
	for _, f := range res.Failed {
		out.failed(f.ProspectID, fmt.Errorf("%s", f.Reason))
	}
	r.logger().Info("unqueued prospects enqueued",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("before", len(approved)),
		zap.Int("scheduled", len(res.Scheduled)),
		zap.Int("failed", len(res.Failed)),
	)
	return out, nil
}

// RescheduleOverdue moves overdue pending rows forward from now, spaced per
// account. Stage and body are untouched.
func (r *Repairer) RescheduleOverdue(ctx context.Context, items []*model.SendQueueItem) (*RepairOutcome, error) {
	out := newRepairOutcome("overdue")
	now := r.Clock.Now()
	cursors := map[uuid.UUID]*slotCursor{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Examined++

		cursor, ok := cursors[item.AccountID]
		if !ok {
			cursor = newSlotCursor(r.Spacer, now, nil)
			cursors[item.AccountID] = cursor
		}
		mark := cursor.mark()
		slot := cursor.Next()
		moved, err := r.Queue.Reschedule(ctx, item.ID, slot)
		if err != nil {
			cursor.rewind(mark)
			out.failed(item.ID, err)
			continue
		}
		if !moved {
			cursor.rewind(mark)
			continue
		}
		r.logger().Info("overdue item rescheduled",
			zap.String("item_id", item.ID.String()),
			zap.Time("before", item.ScheduledFor),
			zap.Time("after", slot),
		)
		out.repaired(item.ID)
	}
	return out, nil
}

func (r *Repairer) attemptLimit() int {
	if r.MaxAttempts <= 0 {
		return defaultRepairAttempts
	}
	return r.MaxAttempts
}

func (r *Repairer) timeout() time.Duration {
	if r.Timeout <= 0 {
		return 30 * time.Second
	}
	return r.Timeout
}

func (r *Repairer) logger() *zap.Logger {
	return applog.OrNop(r.Logger)
}
