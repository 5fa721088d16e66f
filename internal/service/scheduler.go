package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	applog "github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// FollowUpDelays are measured from the delivered connection request.
var FollowUpDelays = []time.Duration{
	3 * 24 * time.Hour,
	8 * 24 * time.Hour,
	13 * 24 * time.Hour,
	18 * 24 * time.Hour,
	23 * 24 * time.Hour,
}

// schedulableStatuses may enter the queue for an opening stage.
var schedulableStatuses = []model.ProspectStatus{
	model.ProspectStatusPending,
	model.ProspectStatusApproved,
	model.ProspectStatusFailed,
	model.ProspectStatusRateLimited,
}

type Scheduler struct {
	Prospects repository.ProspectRepositoryInterface
	Queue     repository.SendQueueRepositoryInterface
	Accounts  *AccountSelector
	Spacer    *Spacer
	Clock     Clock
	Logger    *zap.Logger
	Metrics   metrics.Recorder
}

type ScheduleRequest struct {
	Campaign  *model.Campaign
	Template  string
	Stage     model.Stage
	Prospects []*model.Prospect
}

type ScheduledItem struct {
	ItemID       uuid.UUID `json:"item_id"`
	ProspectID   uuid.UUID `json:"prospect_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

type ProspectNote struct {
	ProspectID uuid.UUID `json:"prospect_id"`
	Reason     string    `json:"reason"`
}

type ScheduleResult struct {
	AccountID     uuid.UUID       `json:"account_id"`
	Stage         model.Stage     `json:"stage"`
	Scheduled     []ScheduledItem `json:"scheduled"`
	AlreadyQueued []uuid.UUID     `json:"already_queued"`
	Skipped       []ProspectNote  `json:"skipped"`
	Failed        []ProspectNote  `json:"failed"`
}

func newScheduleResult(account uuid.UUID, stage model.Stage) *ScheduleResult {
	return &ScheduleResult{
		AccountID:     account,
		Stage:         stage,
		Scheduled:     []ScheduledItem{},
		AlreadyQueued: []uuid.UUID{},
		Skipped:       []ProspectNote{},
		Failed:        []ProspectNote{},
	}
}

// Schedule inserts one spaced queue row per eligible prospect. Rows for one
// account are strictly increasing in time and at least Spacer.Min apart. An
// opening stage also moves the prospect to queued once its row exists.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	if req.Campaign == nil {
		return nil, appErrors.Wrap(appErrors.ErrInvalidInput, "campaign is required")
	}
	if !req.Stage.Valid() {
		return nil, appErrors.Wrap(appErrors.ErrInvalidInput, fmt.Sprintf("unknown stage %q", req.Stage))
	}
	if strings.TrimSpace(req.Template) == "" {
		return nil, appErrors.Wrap(appErrors.ErrInvalidInput, "template is empty")
	}

	account, err := s.Accounts.Select(ctx, req.Campaign)
	if err != nil {
		return nil, err
	}

	latest, err := s.Queue.LatestPendingSlot(ctx, account.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, "load latest pending slot")
	}

	logger := s.logger().With(
		zap.String("campaign_id", req.Campaign.ID.String()),
		zap.String("account_id", account.ID.String()),
		zap.String("stage", string(req.Stage)),
	)

	opening := isOpeningStage(req.Campaign, req.Stage)
	cursor := newSlotCursor(s.Spacer, s.Clock.Now(), latest)
	result := newScheduleResult(account.ID, req.Stage)

	for _, p := range req.Prospects {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		s.scheduleOne(ctx, logger, req, account.ID, p, opening, cursor, result)
	}

	s.recorder().RecordOutcome("scheduler", "scheduled", len(result.Scheduled))
	s.recorder().RecordOutcome("scheduler", "skipped", len(result.Skipped))
	s.recorder().RecordOutcome("scheduler", "failed", len(result.Failed))
	logger.Info("schedule complete",
		zap.Int("scheduled", len(result.Scheduled)),
		zap.Int("already_queued", len(result.AlreadyQueued)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (s *Scheduler) scheduleOne(
	ctx context.Context,
	logger *zap.Logger,
	req ScheduleRequest,
	accountID uuid.UUID,
	p *model.Prospect,
	opening bool,
	cursor *slotCursor,
	result *ScheduleResult,
) {
	if !p.HasUsableLocator() {
		result.Skipped = append(result.Skipped, ProspectNote{p.ID, "no profile locator or provider id"})
		return
	}
	if opening && p.Status != model.ProspectStatusQueued && !containsStatus(schedulableStatuses, p.Status) {
		result.Skipped = append(result.Skipped, ProspectNote{p.ID, fmt.Sprintf("prospect is %s", p.Status)})
		return
	}
	if !opening && p.Status.SequenceHalted() {
		result.Skipped = append(result.Skipped, ProspectNote{p.ID, fmt.Sprintf("sequence halted: prospect is %s", p.Status)})
		return
	}

	existing, err := s.Queue.FindActive(ctx, p.ID, req.Stage)
	if err != nil {
		result.Failed = append(result.Failed, ProspectNote{p.ID, err.Error()})
		return
	}
	if existing != nil {
		result.AlreadyQueued = append(result.AlreadyQueued, p.ID)
		if opening {
			s.markQueued(ctx, logger, p, schedulableStatuses...)
		}
		return
	}

	mark := cursor.mark()
	item := &model.SendQueueItem{
		ID:           uuid.New(),
		CampaignID:   req.Campaign.ID,
		ProspectID:   p.ID,
		AccountID:    accountID,
		Stage:        req.Stage,
		Message:      RenderForProspect(req.Template, p),
		Target:       p.Target(),
		ScheduledFor: cursor.Next(),
		Status:       model.QueueStatusPending,
	}
	created, err := s.Queue.Insert(ctx, item)
	if err != nil {
		cursor.rewind(mark)
		result.Failed = append(result.Failed, ProspectNote{p.ID, err.Error()})
		return
	}
	if !created {
		cursor.rewind(mark)
		result.AlreadyQueued = append(result.AlreadyQueued, p.ID)
		return
	}

	result.Scheduled = append(result.Scheduled, ScheduledItem{item.ID, p.ID, item.ScheduledFor})
	if opening {
		s.markQueued(ctx, logger, p, schedulableStatuses...)
	}
}

// markQueued is a conditional write; losing the race is logged, not fatal.
func (s *Scheduler) markQueued(ctx context.Context, logger *zap.Logger, p *model.Prospect, from ...model.ProspectStatus) {
	from = model.TransitionSources(model.ProspectStatusQueued, from...)
	if p.Status == model.ProspectStatusQueued || !containsStatus(from, p.Status) {
		return
	}
	ok, err := s.Prospects.Transition(ctx, p.ID, from, model.ProspectStatusQueued)
	if err != nil {
		logger.Error("failed to mark prospect queued", zap.String("prospect_id", p.ID.String()), zap.Error(err))
		return
	}
	if !ok {
		logger.Warn("prospect changed status before it could be queued",
			zap.String("prospect_id", p.ID.String()), zap.String("seen_status", string(p.Status)))
		return
	}
	p.Status = model.ProspectStatusQueued
}

// FollowUpRequest schedules the follow-up stages after a delivered
// connection request.
type FollowUpRequest struct {
	Campaign  *model.Campaign
	Prospect  *model.Prospect
	AccountID uuid.UUID
	Target    string
	From      time.Time
}

func (s *Scheduler) ScheduleFollowUps(ctx context.Context, req FollowUpRequest) (*ScheduleResult, error) {
	result := newScheduleResult(req.AccountID, model.FollowUpStage(1))
	for i, delay := range FollowUpDelays {
		stage := model.FollowUpStage(i + 1)
		tmpl, ok := req.Campaign.TemplateFor(stage)
		if !ok {
			continue
		}
		existing, err := s.Queue.FindActive(ctx, req.Prospect.ID, stage)
		if err != nil {
			return result, err
		}
		if existing != nil {
			result.AlreadyQueued = append(result.AlreadyQueued, req.Prospect.ID)
			continue
		}
		target := req.Target
		if target == "" {
			target = req.Prospect.Target()
		}
		item := &model.SendQueueItem{
			ID:           uuid.New(),
			CampaignID:   req.Campaign.ID,
			ProspectID:   req.Prospect.ID,
			AccountID:    req.AccountID,
			Stage:        stage,
			Message:      RenderForProspect(tmpl, req.Prospect),
			Target:       target,
			ScheduledFor: req.From.Add(delay),
			Status:       model.QueueStatusPending,
		}
		created, err := s.Queue.Insert(ctx, item)
		if err != nil {
			return result, err
		}
		if created {
			result.Scheduled = append(result.Scheduled, ScheduledItem{item.ID, req.Prospect.ID, item.ScheduledFor})
		}
	}
	s.recorder().RecordOutcome("scheduler", "follow_up_scheduled", len(result.Scheduled))
	return result, nil
}

func (s *Scheduler) logger() *zap.Logger {
	return applog.OrNop(s.Logger)
}

func (s *Scheduler) recorder() metrics.Recorder {
	if s.Metrics == nil {
		return metrics.Nop{}
	}
	return s.Metrics
}

// isOpeningStage is true for the stage that moves a prospect into the queue.
func isOpeningStage(c *model.Campaign, stage model.Stage) bool {
	initial, ok := c.InitialStage()
	return ok && initial == stage
}

func containsStatus(list []model.ProspectStatus, s model.ProspectStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
