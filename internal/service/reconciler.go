package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	applog "github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/notify"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

const (
	CheckIdentifierFormat = "identifier_format"
	CheckStuckProcessing  = "stuck_processing"
	CheckUnqueued         = "unqueued_prospects"
	CheckOverdue          = "overdue_queue_items"
	CheckUnsettled        = "unsettled_deliveries"
	CheckProviderIDs      = "provider_id_quality"
)

const (
	maxCheckSamples = 10
	stuckScanLimit  = 100
)

type CheckResult struct {
	Name            string          `json:"name"`
	Severity        notify.Severity `json:"severity"`
	Passed          bool            `json:"passed"`
	Message         string          `json:"message"`
	AffectedRecords int             `json:"affected_records"`
	SampleIDs       []uuid.UUID     `json:"sample_ids"`
}

type SweepOptions struct {
	AutoFix bool
}

type SweepReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	AutoFix    bool             `json:"auto_fix"`
	Checks     []CheckResult    `json:"checks"`
	Repairs    []*RepairOutcome `json:"repairs"`
}

// Healthy reports whether every check passed after repairs.
func (r *SweepReport) Healthy() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func (r *SweepReport) TotalRepaired() int {
	n := 0
	for _, rep := range r.Repairs {
		n += rep.Repaired
	}
	return n
}

// Reconciler is the periodic self-healing sweep. Stuck rows are only
// reported; everything it repairs goes through the Repairer.
type Reconciler struct {
	Campaigns repository.CampaignRepositoryInterface
	Prospects repository.ProspectRepositoryInterface
	Queue     repository.SendQueueRepositoryInterface
	Repairer  *Repairer
	Notifier  notify.Notifier
	Clock     Clock
	Logger    *zap.Logger
	Metrics   metrics.Recorder

	StuckAfter      time.Duration
	Warmup          time.Duration
	OverdueAfter    time.Duration
	IdentifierBatch int
	OverdueBatch    int
}

func (r *Reconciler) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{
		StartedAt: r.Clock.Now(),
		AutoFix:   opts.AutoFix,
		Checks:    []CheckResult{},
		Repairs:   []*RepairOutcome{},
	}

	steps := []struct {
		name string
		run  func(context.Context, SweepOptions, *SweepReport) (CheckResult, error)
	}{
		{CheckIdentifierFormat, r.checkIdentifierFailures},
		{CheckStuckProcessing, r.checkStuck},
		{CheckUnqueued, r.checkUnqueued},
		{CheckOverdue, r.checkOverdue},
		{CheckUnsettled, r.checkUnsettled},
		{CheckProviderIDs, r.checkProviderIDs},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		check, err := r.guard(ctx, opts, report, step.name, step.run)
		if err != nil {
			r.logger().Error("reconciliation step failed", zap.String("check", step.name), zap.Error(err))
			check = CheckResult{
				Name:      step.name,
				Severity:  notify.SeverityWarning,
				Message:   fmt.Sprintf("check could not run: %v", err),
				SampleIDs: []uuid.UUID{},
			}
		}
		report.Checks = append(report.Checks, check)
		r.recorder().RecordOutcome("reconciler", step.name, check.AffectedRecords)
	}

	report.FinishedAt = r.Clock.Now()
	r.recorder().RecordOutcome("reconciler", "repaired", report.TotalRepaired())
	r.recorder().RecordDuration("reconciler", "sweep", time.Since(start))
	r.alert(ctx, report)

	r.logger().Info("reconciliation sweep complete",
		zap.Bool("auto_fix", opts.AutoFix),
		zap.Bool("healthy", report.Healthy()),
		zap.Int("repaired", report.TotalRepaired()),
	)
	return report, nil
}

// guard isolates one step so a panic in it cannot take down the sweep.
func (r *Reconciler) guard(
	ctx context.Context,
	opts SweepOptions,
	report *SweepReport,
	name string,
	run func(context.Context, SweepOptions, *SweepReport) (CheckResult, error),
) (check CheckResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", name, p)
		}
	}()
	return run(ctx, opts, report)
}

func (r *Reconciler) checkIdentifierFailures(ctx context.Context, opts SweepOptions, report *SweepReport) (CheckResult, error) {
	check := CheckResult{Name: CheckIdentifierFormat, Severity: notify.SeverityWarning, SampleIDs: []uuid.UUID{}}

	if opts.AutoFix {
		outcome, err := r.Repairer.RepairIdentifierFailures(ctx, r.IdentifierBatch)
		report.Repairs = append(report.Repairs, outcome)
		if err != nil {
			return check, err
		}
		leftFailed, err := r.Repairer.UnrepairableIdentifierFailures(ctx)
		if err != nil {
			return check, err
		}
		remaining := outcome.Examined - outcome.Repaired
		check.AffectedRecords = remaining + leftFailed
		check.Passed = outcome.Failed == 0
		check.Message = fmt.Sprintf("%d identifier failures examined, %d reset to pending, %d could not be repaired, %d left failed",
			outcome.Examined, outcome.Repaired, outcome.Failed, leftFailed)
		check.SampleIDs = outcome.SampleIDs
		for _, e := range outcome.Errors {
			r.logger().Warn("identifier repair failed", zap.String("detail", e))
		}
		return check, nil
	}

	items, err := r.Queue.ListFailedMatching(ctx, identifierFailurePattern, r.Repairer.attemptLimit(), r.IdentifierBatch)
	if err != nil {
		return check, err
	}
	check.AffectedRecords = len(items)
	check.Passed = len(items) == 0
	check.Message = fmt.Sprintf("%d failed items rejected for identifier format", len(items))
	check.SampleIDs = itemSamples(items)
	return check, nil
}

func (r *Reconciler) checkStuck(ctx context.Context, _ SweepOptions, _ *SweepReport) (CheckResult, error) {
	check := CheckResult{Name: CheckStuckProcessing, Severity: notify.SeverityCritical, SampleIDs: []uuid.UUID{}}
	before := r.Clock.Now().Add(-r.StuckAfter)

	prospects, err := r.Prospects.ListStuck(ctx, model.ProspectStatusProcessing, before, stuckScanLimit)
	if err != nil {
		return check, err
	}
	items, err := r.Queue.ListStuck(ctx, before, stuckScanLimit)
	if err != nil {
		return check, err
	}

	for _, p := range prospects {
		check.SampleIDs = appendSample(check.SampleIDs, p.ID)
	}
	for _, item := range items {
		check.SampleIDs = appendSample(check.SampleIDs, item.ID)
	}
	check.AffectedRecords = len(prospects) + len(items)
	check.Passed = check.AffectedRecords == 0
	check.Message = fmt.Sprintf("%d prospects and %d queue items in processing for more than %s",
		len(prospects), len(items), r.StuckAfter)
	return check, nil
}

func (r *Reconciler) checkUnqueued(ctx context.Context, opts SweepOptions, report *SweepReport) (CheckResult, error) {
	check := CheckResult{Name: CheckUnqueued, Severity: notify.SeverityInfo, SampleIDs: []uuid.UUID{}}
	now := r.Clock.Now()

	campaigns, err := r.Campaigns.ListActiveCreatedBefore(ctx, now.Add(-r.Warmup))
	if err != nil {
		return check, err
	}

	// Pending prospects still need a human approval, so they are counted and
	// never enqueued. A prospect whose status changed within the warm-up is
	// skipped: the approval that moved it is still scheduling it.
	statuses := []model.ProspectStatus{model.ProspectStatusApproved, model.ProspectStatusPending}
	var approved, pending, fixed int
	for _, c := range campaigns {
		prospects, err := r.Prospects.ListUnqueued(ctx, c.ID, statuses, now.Add(-r.Warmup))
		if err != nil {
			return check, err
		}
		campaignApproved := 0
		for _, p := range prospects {
			if p.Status == model.ProspectStatusApproved {
				campaignApproved++
				check.SampleIDs = appendSample(check.SampleIDs, p.ID)
			} else {
				pending++
			}
		}
		approved += campaignApproved
		if !opts.AutoFix || campaignApproved == 0 {
			continue
		}

		outcome, err := r.Repairer.EnqueueUnqueued(ctx, c, prospects)
		report.Repairs = append(report.Repairs, outcome)
		if err != nil {
			r.logger().Warn("could not enqueue unqueued prospects",
				zap.String("campaign_id", c.ID.String()), zap.Error(err))
			continue
		}
		fixed += outcome.Repaired
	}

	remaining := approved - fixed
	check.AffectedRecords = remaining + pending
	check.Passed = remaining == 0
	if remaining > 0 {
		check.Severity = notify.SeverityCritical
	}
	check.Message = fmt.Sprintf("%d approved prospects without a queue row (%d enqueued), %d pending awaiting approval",
		approved, fixed, pending)
	return check, nil
}

func (r *Reconciler) checkOverdue(ctx context.Context, opts SweepOptions, report *SweepReport) (CheckResult, error) {
	check := CheckResult{Name: CheckOverdue, Severity: notify.SeverityWarning, SampleIDs: []uuid.UUID{}}

	items, err := r.Queue.ListOverdue(ctx, repository.OverdueFilter{
		Before: r.Clock.Now().Add(-r.OverdueAfter),
		Limit:  r.OverdueBatch,
	})
	if err != nil {
		return check, err
	}
	check.SampleIDs = itemSamples(items)

	fixed := 0
	if opts.AutoFix && len(items) > 0 {
		outcome, err := r.Repairer.RescheduleOverdue(ctx, items)
		report.Repairs = append(report.Repairs, outcome)
		if err != nil {
			return check, err
		}
		fixed = outcome.Repaired
	}

	check.AffectedRecords = len(items) - fixed
	check.Passed = check.AffectedRecords == 0
	check.Message = fmt.Sprintf("%d pending items overdue by more than %s, %d rescheduled",
		len(items), r.OverdueAfter, fixed)
	return check, nil
}

func (r *Reconciler) checkUnsettled(ctx context.Context, _ SweepOptions, _ *SweepReport) (CheckResult, error) {
	check := CheckResult{Name: CheckUnsettled, Severity: notify.SeverityWarning, SampleIDs: []uuid.UUID{}}

	rows, err := r.Queue.ListUnsettled(ctx, stuckScanLimit)
	if err != nil {
		return check, err
	}
	for _, u := range rows {
		check.SampleIDs = appendSample(check.SampleIDs, u.ProspectID)
	}
	check.AffectedRecords = len(rows)
	check.Passed = len(rows) == 0
	check.Message = fmt.Sprintf("%d delivered items whose prospect is still queued or processing", len(rows))
	return check, nil
}

func (r *Reconciler) checkProviderIDs(ctx context.Context, _ SweepOptions, _ *SweepReport) (CheckResult, error) {
	check := CheckResult{Name: CheckProviderIDs, Severity: notify.SeverityInfo, Passed: true, SampleIDs: []uuid.UUID{}}

	q, err := r.Queue.PendingTargetQuality(ctx, maxCheckSamples)
	if err != nil {
		return check, err
	}
	check.AffectedRecords = q.Unresolved
	check.SampleIDs = q.SampleItems
	if q.Pending == 0 {
		check.Message = "no pending items"
		return check, nil
	}
	share := float64(q.Unresolved) / float64(q.Pending)
	if share > 0.5 {
		check.Severity = notify.SeverityWarning
		check.Passed = false
	}
	check.Message = fmt.Sprintf("%d of %d pending items target a vanity or URL (%.0f%%)",
		q.Unresolved, q.Pending, share*100)
	return check, nil
}

// alert sends one card per failed critical or warning check. Delivery
// failures are logged and dropped.
func (r *Reconciler) alert(ctx context.Context, report *SweepReport) {
	if r.Notifier == nil {
		return
	}
	for _, c := range report.Checks {
		if c.Passed || c.Severity == notify.SeverityInfo {
			continue
		}
		samples := make([]string, 0, len(c.SampleIDs))
		for _, id := range c.SampleIDs {
			samples = append(samples, id.String())
		}
		err := r.Notifier.Notify(ctx, notify.Alert{
			Severity:  c.Severity,
			Title:     "Outreach reconciliation: " + c.Name,
			Summary:   c.Message,
			Count:     c.AffectedRecords,
			SampleIDs: samples,
			Facts:     map[string]string{"auto_fix": fmt.Sprint(report.AutoFix)},
		})
		if err != nil {
			r.logger().Warn("notification failed", zap.String("check", c.Name), zap.Error(err))
		}
	}
}

func (r *Reconciler) logger() *zap.Logger {
	return applog.OrNop(r.Logger)
}

func (r *Reconciler) recorder() metrics.Recorder {
	if r.Metrics == nil {
		return metrics.Nop{}
	}
	return r.Metrics
}

func appendSample(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	if len(ids) >= maxCheckSamples {
		return ids
	}
	return append(ids, id)
}

func itemSamples(items []*model.SendQueueItem) []uuid.UUID {
	ids := []uuid.UUID{}
	for _, item := range items {
		ids = appendSample(ids, item.ID)
	}
	return ids
}
