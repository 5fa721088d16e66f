package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/controller"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type MockValidator struct {
	requests []service.ValidateRequest
}

func (m *MockValidator) Validate(_ context.Context, req service.ValidateRequest) (*service.ValidationReport, error) {
	m.requests = append(m.requests, req)
	return &service.ValidationReport{Campaigns: []service.CampaignValidation{}}, nil
}

type MockScheduler struct {
	campaignID  uuid.UUID
	prospectIDs []uuid.UUID
	err         error
}

func (m *MockScheduler) ScheduleProspects(_ context.Context, campaignID uuid.UUID, ids []uuid.UUID) (*service.ScheduleResult, error) {
	m.campaignID = campaignID
	m.prospectIDs = ids
	if m.err != nil {
		return nil, m.err
	}
	return &service.ScheduleResult{Scheduled: []service.ScheduledItem{}, Skipped: []service.ProspectNote{}}, nil
}

func newCampaignRouter(v *MockValidator, s *MockScheduler) chi.Router {
	r := chi.NewRouter()
	(&controller.CampaignController{Validator: v, CampaignService: s}).Mount(r)
	return r
}

func post(r http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidateCampaigns(t *testing.T) {
	v := &MockValidator{}
	r := newCampaignRouter(v, &MockScheduler{})
	id := uuid.New()

	w := post(r, "/campaigns/validate", `{"campaign_ids":["`+id.String()+`"],"auto_fix":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var report service.ValidationReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))

	require.Len(t, v.requests, 1)
	assert.Equal(t, []uuid.UUID{id}, v.requests[0].CampaignIDs)
	assert.True(t, v.requests[0].AutoFix)
}

func TestValidateCampaigns_EmptyBodyMeansAllActive(t *testing.T) {
	v := &MockValidator{}
	r := newCampaignRouter(v, &MockScheduler{})

	w := post(r, "/campaigns/validate", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, v.requests, 1)
	assert.Empty(t, v.requests[0].CampaignIDs)
	assert.False(t, v.requests[0].AutoFix)
}

func TestValidateCampaigns_RejectsBadInput(t *testing.T) {
	v := &MockValidator{}
	r := newCampaignRouter(v, &MockScheduler{})

	assert.Equal(t, http.StatusBadRequest, post(r, "/campaigns/validate", `{"campaign_ids":`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, post(r, "/campaigns/validate", `{"campaign_ids":["nope"]}`).Code)
	assert.Empty(t, v.requests)
}

func TestScheduleProspects(t *testing.T) {
	s := &MockScheduler{}
	r := newCampaignRouter(&MockValidator{}, s)
	campaignID, prospectID := uuid.New(), uuid.New()

	w := post(r, "/campaigns/"+campaignID.String()+"/schedule", `{"prospect_ids":["`+prospectID.String()+`"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, campaignID, s.campaignID)
	assert.Equal(t, []uuid.UUID{prospectID}, s.prospectIDs)
}

func TestScheduleProspects_Errors(t *testing.T) {
	campaignID := uuid.New()
	valid := `{"prospect_ids":["` + uuid.NewString() + `"]}`

	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
	}{
		{"bad campaign id", "/campaigns/42/schedule", valid, nil, http.StatusBadRequest},
		{"malformed body", "/campaigns/" + campaignID.String() + "/schedule", `{`, nil, http.StatusBadRequest},
		{"no prospects", "/campaigns/" + campaignID.String() + "/schedule", `{"prospect_ids":[]}`, nil, http.StatusUnprocessableEntity},
		{"campaign missing", "/campaigns/" + campaignID.String() + "/schedule", valid, appErrors.NewCampaignNotFound(campaignID), http.StatusNotFound},
		{"archived", "/campaigns/" + campaignID.String() + "/schedule", valid, appErrors.Wrap(appErrors.ErrConflict, "archived"), http.StatusConflict},
		{"no account", "/campaigns/" + campaignID.String() + "/schedule", valid, appErrors.ErrNoEligibleAccount, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCampaignRouter(&MockValidator{}, &MockScheduler{err: tt.err})
			assert.Equal(t, tt.status, post(r, tt.path, tt.body).Code)
		})
	}
}
