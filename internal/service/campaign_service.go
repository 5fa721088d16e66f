// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	ProspectRepo  repository.ProspectRepositoryInterface
	SendQueueRepo repository.SendQueueRepositoryInterface
	Scheduler     *Scheduler
	Logger        *zap.Logger
}

type CampaignDetails struct {
	*model.Campaign
	QueueStats    map[model.QueueStatus]int    `json:"queue_stats"`
	ProspectStats map[model.ProspectStatus]int `json:"prospect_stats"`
	Prospects     int                          `json:"prospect_count"`
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID uuid.UUID) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	queueStats, err := s.SendQueueRepo.StatusCounts(ctx, campaignID)
	if err != nil {
		return nil, appErrors.Wrap(err, "count queue items")
	}
	prospectStats, err := s.ProspectRepo.CountByStatus(ctx, campaignID)
	if err != nil {
		return nil, appErrors.Wrap(err, "count prospects")
	}

	total := 0
	for _, n := range prospectStats {
		total += n
	}
	return &CampaignDetails{
		Campaign:      campaign,
		QueueStats:    queueStats,
		ProspectStats: prospectStats,
		Prospects:     total,
	}, nil
}

// ScheduleProspects queues the opening stage for the given prospects of a
// campaign. Prospects that belong to another campaign are reported as skipped.
func (s *CampaignService) ScheduleProspects(ctx context.Context, campaignID uuid.UUID, prospectIDs []uuid.UUID) (*ScheduleResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusActive && campaign.Status != model.CampaignStatusDraft {
		return nil, appErrors.Wrap(appErrors.ErrConflict, fmt.Sprintf("campaign cannot be scheduled in status: %s", campaign.Status))
	}

	stage, ok := campaign.InitialStage()
	if !ok {
		return nil, appErrors.Wrap(appErrors.ErrInvalidInput, fmt.Sprintf("%s campaigns have no outreach sequence", campaign.Type))
	}
	tmpl, ok := campaign.TemplateFor(stage)
	if !ok {
		return nil, appErrors.Wrap(appErrors.ErrInvalidInput, fmt.Sprintf("campaign has no %s template", stage))
	}

	prospects, err := s.ProspectRepo.ListByIDs(ctx, prospectIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, "load prospects")
	}

	var foreign []ProspectNote
	own := make([]*model.Prospect, 0, len(prospects))
	found := make(map[uuid.UUID]bool, len(prospects))
	for _, p := range prospects {
		found[p.ID] = true
		if p.CampaignID != campaignID {
			foreign = append(foreign, ProspectNote{p.ID, "prospect belongs to another campaign"})
			continue
		}
		own = append(own, p)
	}
	for _, id := range prospectIDs {
		if !found[id] {
			foreign = append(foreign, ProspectNote{id, "prospect not found"})
		}
	}

	result, err := s.Scheduler.Schedule(ctx, ScheduleRequest{
		Campaign:  campaign,
		Template:  tmpl,
		Stage:     stage,
		Prospects: own,
	})
	if err != nil {
		return nil, err
	}
	result.Skipped = append(result.Skipped, foreign...)
	return result, nil
}
