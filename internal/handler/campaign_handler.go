// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/httputil"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type CampaignStats interface {
	GetCampaignDetailsWithStats(ctx context.Context, campaignID uuid.UUID) (*service.CampaignDetails, error)
}

// CampaignHandler holds the dependencies for campaign read endpoints
type CampaignHandler struct {
	Service CampaignStats
	Logger  *zap.Logger
}

func NewCampaignHandler(svc CampaignStats, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{Service: svc, Logger: logger}
}

// GetCampaignHandlerWithStats returns a campaign with its queue and prospect status counts
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleBadRequest(w, errors.New("invalid campaign id"), h.Logger)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		httputil.HandleError(w, err, h.Logger)
		return
	}

	if h.Logger != nil {
		h.Logger.Debug("returning campaign stats",
			zap.String("campaign_id", id.String()),
			zap.Int("prospects", details.Prospects),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}
