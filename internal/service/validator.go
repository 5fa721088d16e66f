package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	applog "github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
	IssueInfo    IssueSeverity = "info"
)

const (
	IssueCampaignNotFound     = "CAMPAIGN_NOT_FOUND"
	IssueNoProspects          = "NO_PROSPECTS"
	IssueMissingConnectionMsg = "MISSING_CONNECTION_MESSAGE"
	IssueMissingDirectMsg     = "MISSING_DIRECT_MESSAGE"
	IssueNoAccount            = "NO_LINKEDIN_ACCOUNT"
	IssueAccountNotFound      = "LINKEDIN_ACCOUNT_NOT_FOUND"
	IssueAccountDisconnected  = "LINKEDIN_ACCOUNT_DISCONNECTED"
	IssueStuckApproved        = "STUCK_APPROVED_PROSPECTS"
	IssueMissingProviderIDs   = "MESSENGER_MISSING_LINKEDIN_IDS"
	IssueOverdueQueueItems    = "OVERDUE_QUEUE_ITEMS"
	IssueActiveNoProgress     = "ACTIVE_NO_PROGRESS"
	IssueAwaitingApproval     = "AWAITING_APPROVAL"
	IssueDuplicateProspects   = "DUPLICATE_PROSPECTS"
	IssueValidationIncomplete = "VALIDATION_INCOMPLETE"
)

// Issue is one finding for a campaign. Fixed is set when an auto-fix in this
// run resolved every affected record; a fixed error no longer blocks.
type Issue struct {
	Code        string        `json:"code"`
	Severity    IssueSeverity `json:"type"`
	Message     string        `json:"message"`
	Suggestion  string        `json:"suggestion,omitempty"`
	AutoFixable bool          `json:"auto_fixable"`
	Fixed       bool          `json:"fixed,omitempty"`
	Count       int           `json:"count,omitempty"`
}

type CampaignValidation struct {
	CampaignID   uuid.UUID            `json:"campaign_id"`
	CampaignName string               `json:"campaign_name"`
	Status       model.CampaignStatus `json:"status"`
	IsValid      bool                 `json:"is_valid"`
	Issues       []Issue              `json:"issues"`
	AutoFixed    []string             `json:"auto_fixed"`
}

type ValidationSummary struct {
	CampaignsChecked    int  `json:"campaigns_checked"`
	CampaignsWithIssues int  `json:"campaigns_with_issues"`
	TotalIssues         int  `json:"total_issues"`
	TotalAutoFixed      int  `json:"total_auto_fixed"`
	HasBlockingErrors   bool `json:"has_blocking_errors"`
}

type ValidationReport struct {
	Summary   ValidationSummary    `json:"summary"`
	Campaigns []CampaignValidation `json:"campaigns"`
}

type ValidateRequest struct {
	// CampaignIDs empty means every active campaign.
	CampaignIDs []uuid.UUID
	AutoFix     bool
}

type Validator struct {
	Campaigns repository.CampaignRepositoryInterface
	Prospects repository.ProspectRepositoryInterface
	Queue     repository.SendQueueRepositoryInterface
	Accounts  repository.AccountRepositoryInterface
	Repairer  *Repairer
	Clock     Clock
	Logger    *zap.Logger
	Metrics   metrics.Recorder

	StuckApprovedAfter time.Duration
	OverdueAfter       time.Duration
	OverdueBatch       int
	Concurrency        int
}

func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (*ValidationReport, error) {
	start := time.Now()

	var (
		campaigns []*model.Campaign
		missing   []uuid.UUID
		err       error
	)
	if len(req.CampaignIDs) == 0 {
		campaigns, err = v.Campaigns.ListByStatus(ctx, model.CampaignStatusActive)
	} else {
		campaigns, err = v.Campaigns.ListByIDs(ctx, req.CampaignIDs)
		missing = missingCampaigns(req.CampaignIDs, campaigns)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, "load campaigns")
	}

	results := make([]CampaignValidation, len(campaigns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency())
	for i, c := range campaigns {
		g.Go(func() error {
			results[i] = v.validateCampaign(gctx, c, req.AutoFix)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range missing {
		results = append(results, CampaignValidation{
			CampaignID:   id,
			CampaignName: "Unknown",
			Status:       "unknown",
			Issues: []Issue{{
				Code:       IssueCampaignNotFound,
				Severity:   IssueError,
				Message:    "Campaign not found",
				Suggestion: "Check that the campaign id is correct",
			}},
			AutoFixed: []string{},
		})
	}

	report := &ValidationReport{Campaigns: results}
	for _, r := range results {
		report.Summary.CampaignsChecked++
		if len(r.Issues) > 0 {
			report.Summary.CampaignsWithIssues++
		}
		report.Summary.TotalIssues += len(r.Issues)
		report.Summary.TotalAutoFixed += len(r.AutoFixed)
		if !r.IsValid {
			report.Summary.HasBlockingErrors = true
		}
	}

	v.recorder().RecordOutcome("validator", "campaigns_checked", report.Summary.CampaignsChecked)
	v.recorder().RecordOutcome("validator", "auto_fixed", report.Summary.TotalAutoFixed)
	v.recorder().RecordDuration("validator", "validate", time.Since(start))
	v.logger().Info("campaign validation complete",
		zap.Int("campaigns", report.Summary.CampaignsChecked),
		zap.Int("issues", report.Summary.TotalIssues),
		zap.Int("auto_fixed", report.Summary.TotalAutoFixed),
		zap.Bool("blocking", report.Summary.HasBlockingErrors),
	)
	return report, nil
}

func (v *Validator) validateCampaign(ctx context.Context, c *model.Campaign, autoFix bool) CampaignValidation {
	result := CampaignValidation{
		CampaignID:   c.ID,
		CampaignName: c.Name,
		Status:       c.Status,
		Issues:       []Issue{},
		AutoFixed:    []string{},
	}
	logger := v.logger().With(zap.String("campaign_id", c.ID.String()))

	if err := v.check(ctx, c, autoFix, &result); err != nil {
		logger.Error("campaign validation incomplete", zap.Error(err))
		result.Issues = append(result.Issues, Issue{
			Code:     IssueValidationIncomplete,
			Severity: IssueWarning,
			Message:  fmt.Sprintf("Some checks could not run: %v", err),
		})
	}

	result.IsValid = true
	for _, issue := range result.Issues {
		if issue.Severity == IssueError && !issue.Fixed {
			result.IsValid = false
		}
	}
	return result
}

func (v *Validator) check(ctx context.Context, c *model.Campaign, autoFix bool, result *CampaignValidation) error {
	add := func(issue Issue) *Issue {
		result.Issues = append(result.Issues, issue)
		return &result.Issues[len(result.Issues)-1]
	}

	prospects, err := v.Prospects.ListByCampaign(ctx, c.ID)
	if err != nil {
		return err
	}
	if len(prospects) == 0 {
		add(Issue{
			Code:       IssueNoProspects,
			Severity:   IssueError,
			Message:    "Campaign has no prospects",
			Suggestion: "Add prospects to the campaign",
		})
	}

	switch c.Type {
	case model.CampaignTypeConnector:
		if _, ok := c.TemplateFor(model.StageConnectionRequest); !ok {
			add(Issue{
				Code:       IssueMissingConnectionMsg,
				Severity:   IssueError,
				Message:    "Connector campaign has no connection request message",
				Suggestion: "Add a connection request message in campaign settings",
			})
		}
	case model.CampaignTypeMessenger:
		if _, ok := c.TemplateFor(model.DirectMessageStage(1)); !ok {
			add(Issue{
				Code:       IssueMissingDirectMsg,
				Severity:   IssueError,
				Message:    "Messenger campaign has no direct message",
				Suggestion: "Add at least one direct message in campaign settings",
			})
		}
	}

	if c.Type != model.CampaignTypeEmail {
		if err := v.checkAccount(ctx, c, add); err != nil {
			return err
		}
	}

	if err := v.checkStuckApproved(ctx, c, autoFix, result, add); err != nil {
		return err
	}

	if c.Type == model.CampaignTypeMessenger && len(prospects) > 0 {
		unresolved := 0
		for _, p := range prospects {
			if !model.IsProviderID(p.ProviderID) {
				unresolved++
			}
		}
		if unresolved*2 > len(prospects) {
			add(Issue{
				Code:       IssueMissingProviderIDs,
				Severity:   IssueWarning,
				Message:    fmt.Sprintf("%d of %d prospects have no resolved provider id", unresolved, len(prospects)),
				Suggestion: "Identifiers are resolved at send time; expect slower first sends",
				Count:      unresolved,
			})
		}
	}

	if err := v.checkOverdue(ctx, c, autoFix, result, add); err != nil {
		return err
	}

	if c.Status == model.CampaignStatusActive {
		if err := v.checkProgress(ctx, c, prospects, add); err != nil {
			return err
		}
	}

	if n := duplicateLocators(prospects); n > 0 {
		add(Issue{
			Code:       IssueDuplicateProspects,
			Severity:   IssueWarning,
			Message:    fmt.Sprintf("%d duplicate profile URLs found in campaign", n),
			Suggestion: "Remove duplicates to avoid messaging the same person twice",
			Count:      n,
		})
	}
	return nil
}

func (v *Validator) checkAccount(ctx context.Context, c *model.Campaign, add func(Issue) *Issue) error {
	if c.LinkedAccountID == nil {
		add(Issue{
			Code:       IssueNoAccount,
			Severity:   IssueError,
			Message:    "No outreach account linked to campaign",
			Suggestion: "Link a connected account in campaign settings",
		})
		return nil
	}
	account, err := v.Accounts.GetByID(ctx, *c.LinkedAccountID)
	if appErrors.Is(err, appErrors.ErrNotFound) {
		add(Issue{
			Code:       IssueAccountNotFound,
			Severity:   IssueError,
			Message:    "Linked outreach account no longer exists",
			Suggestion: "Link a different account",
		})
		return nil
	}
	if err != nil {
		return err
	}
	if !account.Connected() {
		add(Issue{
			Code:       IssueAccountDisconnected,
			Severity:   IssueError,
			Message:    fmt.Sprintf("Linked account %q is %s", account.Name, account.ConnectionStatus),
			Suggestion: "Reconnect the account",
		})
	}
	return nil
}

func (v *Validator) checkStuckApproved(
	ctx context.Context,
	c *model.Campaign,
	autoFix bool,
	result *CampaignValidation,
	add func(Issue) *Issue,
) error {
	stuck, err := v.Prospects.ListUnqueued(ctx, c.ID,
		[]model.ProspectStatus{model.ProspectStatusApproved},
		v.Clock.Now().Add(-v.StuckApprovedAfter))
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	issue := add(Issue{
		Code:        IssueStuckApproved,
		Severity:    IssueError,
		Message:     fmt.Sprintf("%d approved prospects not in queue for more than %s", len(stuck), v.StuckApprovedAfter),
		Suggestion:  "These prospects need to be added to the send queue",
		AutoFixable: true,
		Count:       len(stuck),
	})
	if !autoFix {
		return nil
	}

	outcome, err := v.Repairer.EnqueueUnqueued(ctx, c, stuck)
	if err != nil {
		v.logger().Warn("stuck approved prospects not enqueued",
			zap.String("campaign_id", c.ID.String()), zap.Error(err))
		return nil
	}
	if outcome.Repaired > 0 {
		result.AutoFixed = append(result.AutoFixed, fmt.Sprintf("Queued %d stuck approved prospects", outcome.Repaired))
	}
	issue.Fixed = outcome.Repaired == len(stuck)
	return nil
}

func (v *Validator) checkOverdue(
	ctx context.Context,
	c *model.Campaign,
	autoFix bool,
	result *CampaignValidation,
	add func(Issue) *Issue,
) error {
	id := c.ID
	overdue, err := v.Queue.ListOverdue(ctx, repository.OverdueFilter{
		CampaignID: &id,
		Before:     v.Clock.Now().Add(-v.OverdueAfter),
		Limit:      v.OverdueBatch,
	})
	if err != nil {
		return err
	}
	if len(overdue) == 0 {
		return nil
	}

	issue := add(Issue{
		Code:        IssueOverdueQueueItems,
		Severity:    IssueWarning,
		Message:     fmt.Sprintf("%d queue items overdue by more than %s", len(overdue), v.OverdueAfter),
		Suggestion:  "Check that the executor trigger is running",
		AutoFixable: true,
		Count:       len(overdue),
	})
	if !autoFix {
		return nil
	}

	outcome, err := v.Repairer.RescheduleOverdue(ctx, overdue)
	if err != nil {
		return err
	}
	if outcome.Repaired > 0 {
		result.AutoFixed = append(result.AutoFixed, fmt.Sprintf("Rescheduled %d overdue queue items", outcome.Repaired))
	}
	issue.Fixed = outcome.Repaired == len(overdue)
	return nil
}

func (v *Validator) checkProgress(ctx context.Context, c *model.Campaign, prospects []*model.Prospect, add func(Issue) *Issue) error {
	var contacted, approved, pending int
	for _, p := range prospects {
		switch {
		case p.Status.Contacted():
			contacted++
		case p.Status == model.ProspectStatusApproved:
			approved++
		case p.Status == model.ProspectStatusPending:
			pending++
		}
	}
	if contacted > 0 {
		return nil
	}

	counts, err := v.Queue.StatusCounts(ctx, c.ID)
	if err != nil {
		return err
	}
	if counts[model.QueueStatusPending] > 0 {
		return nil
	}

	switch {
	case approved > 0:
		add(Issue{
			Code:        IssueActiveNoProgress,
			Severity:    IssueWarning,
			Message:     fmt.Sprintf("Active campaign has %d approved prospects but none sent or queued", approved),
			Suggestion:  "Prospects may need to be added to the send queue",
			AutoFixable: true,
			Count:       approved,
		})
	case pending > 0:
		add(Issue{
			Code:       IssueAwaitingApproval,
			Severity:   IssueInfo,
			Message:    fmt.Sprintf("Campaign has %d prospects waiting for approval", pending),
			Suggestion: "Approve prospects to start sending",
			Count:      pending,
		})
	}
	return nil
}

// duplicateLocators counts profile URLs that occur more than once.
func duplicateLocators(prospects []*model.Prospect) int {
	seen := map[string]int{}
	for _, p := range prospects {
		if url := model.NormalizeLocator(p.ProfileURL); url != "" {
			seen[url]++
		}
	}
	n := 0
	for _, count := range seen {
		if count > 1 {
			n++
		}
	}
	return n
}

func missingCampaigns(requested []uuid.UUID, found []*model.Campaign) []uuid.UUID {
	present := make(map[uuid.UUID]bool, len(found))
	for _, c := range found {
		present[c.ID] = true
	}
	var missing []uuid.UUID
	for _, id := range requested {
		if !present[id] {
			missing = append(missing, id)
			present[id] = true
		}
	}
	return missing
}

func (v *Validator) concurrency() int {
	if v.Concurrency <= 0 {
		return 4
	}
	return v.Concurrency
}

func (v *Validator) logger() *zap.Logger {
	return applog.OrNop(v.Logger)
}

func (v *Validator) recorder() metrics.Recorder {
	if v.Metrics == nil {
		return metrics.Nop{}
	}
	return v.Metrics
}
