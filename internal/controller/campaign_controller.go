// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/httputil"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type CampaignValidator interface {
	Validate(ctx context.Context, req service.ValidateRequest) (*service.ValidationReport, error)
}

type ProspectScheduler interface {
	ScheduleProspects(ctx context.Context, campaignID uuid.UUID, prospectIDs []uuid.UUID) (*service.ScheduleResult, error)
}

type CampaignController struct {
	Validator       CampaignValidator
	CampaignService ProspectScheduler
	Logger          *zap.Logger
}

// ValidateCampaigns checks the given campaigns, or every active campaign when
// the body is empty or lists no ids.
func (c *CampaignController) ValidateCampaigns(w http.ResponseWriter, r *http.Request) {
	var body ValidateCampaignsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		httputil.HandleBadRequest(w, errors.New("invalid body"), c.Logger)
		return
	}
	if err := body.Validate(); err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}

	report, err := c.Validator.Validate(r.Context(), service.ValidateRequest{
		CampaignIDs: parseIDs(body.CampaignIDs),
		AutoFix:     body.AutoFix,
	})
	if err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (c *CampaignController) ScheduleProspects(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleBadRequest(w, errors.New("invalid campaign id"), c.Logger)
		return
	}

	var body ScheduleProspectsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.HandleBadRequest(w, errors.New("invalid body"), c.Logger)
		return
	}
	if err := body.Validate(); err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}

	result, err := c.CampaignService.ScheduleProspects(r.Context(), campaignID, parseIDs(body.ProspectIDs))
	if err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
