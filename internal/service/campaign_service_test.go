package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/service"
)

func (f *fixture) campaignService() *service.CampaignService {
	return &service.CampaignService{
		CampaignRepo:  campaignRepo{f.store},
		ProspectRepo:  prospectRepo{f.store},
		SendQueueRepo: queueRepo{f.store},
		Scheduler:     f.scheduler,
	}
}

func TestCampaignService_GetCampaignDetailsWithStats(t *testing.T) {
	f := newFixture()
	c := f.connectorCampaign()
	a := f.prospect(c, model.ProspectStatusQueued, "", "ACoAABstats01")
	f.prospect(c, model.ProspectStatusPending, "", "ACoAABstats02")
	f.queued(c, a, model.StageConnectionRequest, baseTime)

	details, err := f.campaignService().GetCampaignDetailsWithStats(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, details.ID)
	assert.Equal(t, 2, details.Prospects)
	assert.Equal(t, 1, details.ProspectStats[model.ProspectStatusQueued])
	assert.Equal(t, 1, details.QueueStats[model.QueueStatusPending])
	assert.Equal(t, 0, details.QueueStats[model.QueueStatusSent])

	_, err = f.campaignService().GetCampaignDetailsWithStats(context.Background(), uuid.New())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestCampaignService_ScheduleProspects(t *testing.T) {
	f := newFixture()
	c := f.connectorCampaign()
	other := f.connectorCampaign()
	mine := f.prospect(c, model.ProspectStatusApproved, "", "ACoAABmine01")
	theirs := f.prospect(other, model.ProspectStatusApproved, "", "ACoAABtheirs")
	ghost := uuid.New()

	res, err := f.campaignService().ScheduleProspects(context.Background(), c.ID, []uuid.UUID{mine.ID, theirs.ID, ghost})
	require.NoError(t, err)
	require.Len(t, res.Scheduled, 1)
	assert.Equal(t, mine.ID, res.Scheduled[0].ProspectID)
	assert.Len(t, res.Skipped, 2)
	assert.Empty(t, f.store.itemsFor(theirs.ID))
}

func TestCampaignService_ScheduleRejectsArchived(t *testing.T) {
	f := newFixture()
	c := f.connectorCampaign()
	c.Status = model.CampaignStatusArchived

	_, err := f.campaignService().ScheduleProspects(context.Background(), c.ID, nil)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestDispatcher_PublishesDueItems(t *testing.T) {
	f := newFixture()
	c := f.connectorCampaign()
	due := f.queued(c, f.prospect(c, model.ProspectStatusQueued, "", "ACoAABdisp01"), model.StageConnectionRequest, baseTime)
	f.queued(c, f.prospect(c, model.ProspectStatusQueued, "", "ACoAABdisp02"), model.StageConnectionRequest, baseTime.Add(time.Hour))

	broker := queue.NewInMemoryQueue(nil)
	defer broker.Close()
	got := make(chan uuid.UUID, 4)
	require.NoError(t, queue.StartSendSubscriber(broker, "sends", 0, func(_ context.Context, id uuid.UUID) error {
		got <- id
		return nil
	}, nil))

	d := &service.Dispatcher{Queue: queueRepo{f.store}, Broker: broker, Topic: "sends", Clock: f.clock}
	res, err := d.Dispatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Published)

	select {
	case id := <-got:
		assert.Equal(t, due.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("job not delivered")
	}
	assert.Equal(t, model.QueueStatusPending, f.store.item(due.ID).Status)
}
