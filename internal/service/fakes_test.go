package service_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/notify"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// store is an in-memory stand-in for the four tables. Repositories hand out
// copies so callers cannot mutate stored rows directly.
type store struct {
	mu        sync.Mutex
	clock     *testClock
	campaigns map[uuid.UUID]*model.Campaign
	accounts  map[uuid.UUID]*model.OutreachAccount
	prospects []*model.Prospect
	items     []*model.SendQueueItem
}

func newStore(clock *testClock) *store {
	return &store{
		clock:     clock,
		campaigns: map[uuid.UUID]*model.Campaign{},
		accounts:  map[uuid.UUID]*model.OutreachAccount{},
	}
}

func (s *store) addCampaign(c *model.Campaign) *model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.campaigns[c.ID] = c
	return c
}

func (s *store) addAccount(a *model.OutreachAccount) *model.OutreachAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.accounts[a.ID] = a
	return a
}

func (s *store) addProspect(p *model.Prospect) *model.Prospect {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.prospects = append(s.prospects, p)
	return p
}

func (s *store) addItem(item *model.SendQueueItem) *model.SendQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	s.items = append(s.items, item)
	return item
}

func (s *store) prospect(id uuid.UUID) *model.Prospect {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prospects {
		if p.ID == id {
			cp := *p
			return &cp
		}
	}
	return nil
}

func (s *store) item(id uuid.UUID) *model.SendQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ID == id {
			cp := *item
			return &cp
		}
	}
	return nil
}

func (s *store) itemsFor(prospectID uuid.UUID) []*model.SendQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SendQueueItem
	for _, item := range s.items {
		if item.ProspectID == prospectID {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out
}

func (s *store) allItems() []*model.SendQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.SendQueueItem, 0, len(s.items))
	for _, item := range s.items {
		cp := *item
		out = append(out, &cp)
	}
	return out
}

// campaignRepo

type campaignRepo struct{ *store }

var _ repository.CampaignRepositoryInterface = campaignRepo{}

func (r campaignRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r campaignRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, id := range ids {
		if c, ok := r.campaigns[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r campaignRepo) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	return r.filter(func(c *model.Campaign) bool { return c.Status == status }), nil
}

func (r campaignRepo) ListActiveCreatedBefore(_ context.Context, before time.Time) ([]*model.Campaign, error) {
	return r.filter(func(c *model.Campaign) bool {
		return c.Status == model.CampaignStatusActive && c.CreatedAt.Before(before)
	}), nil
}

func (r campaignRepo) filter(keep func(*model.Campaign) bool) []*model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// accountRepo

type accountRepo struct{ *store }

var _ repository.AccountRepositoryInterface = accountRepo{}

func (r accountRepo) GetByID(_ context.Context, id uuid.UUID) (*model.OutreachAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, appErrors.NewAccountNotFound(id)
	}
	cp := *a
	return &cp, nil
}

func (r accountRepo) ListConnected(_ context.Context, workspaceID uuid.UUID) ([]*model.OutreachAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.OutreachAccount{}
	for _, a := range r.accounts {
		if a.WorkspaceID == workspaceID && a.Connected() {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// prospectRepo

type prospectRepo struct{ *store }

var _ repository.ProspectRepositoryInterface = prospectRepo{}

func (r prospectRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Prospect, error) {
	if p := r.prospect(id); p != nil {
		return p, nil
	}
	return nil, appErrors.NewProspectNotFound(id)
}

func (r prospectRepo) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*model.Prospect, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	return r.filter(func(p *model.Prospect) bool { return want[p.ID] }), nil
}

func (r prospectRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID) ([]*model.Prospect, error) {
	return r.filter(func(p *model.Prospect) bool { return p.CampaignID == campaignID }), nil
}

func (r prospectRepo) CountByStatus(_ context.Context, campaignID uuid.UUID) (map[model.ProspectStatus]int, error) {
	counts := map[model.ProspectStatus]int{}
	for _, p := range r.filter(func(p *model.Prospect) bool { return p.CampaignID == campaignID }) {
		counts[p.Status]++
	}
	return counts, nil
}

func (r prospectRepo) ListUnqueued(
	_ context.Context,
	campaignID uuid.UUID,
	statuses []model.ProspectStatus,
	updatedBefore time.Time,
) ([]*model.Prospect, error) {
	r.mu.Lock()
	queued := map[uuid.UUID]bool{}
	for _, item := range r.items {
		queued[item.ProspectID] = true
	}
	r.mu.Unlock()

	return r.filter(func(p *model.Prospect) bool {
		return p.CampaignID == campaignID &&
			hasStatus(statuses, p.Status) &&
			p.UpdatedAt.Before(updatedBefore) &&
			p.HasUsableLocator() &&
			!queued[p.ID]
	}), nil
}

func (r prospectRepo) ListStuck(_ context.Context, status model.ProspectStatus, updatedBefore time.Time, limit int) ([]*model.Prospect, error) {
	out := r.filter(func(p *model.Prospect) bool {
		return p.Status == status && p.UpdatedAt.Before(updatedBefore)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r prospectRepo) Transition(_ context.Context, id uuid.UUID, from []model.ProspectStatus, to model.ProspectStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.prospects {
		if p.ID == id && hasStatus(from, p.Status) {
			p.Status = to
			p.UpdatedAt = r.clock.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r prospectRepo) UpdateProviderID(_ context.Context, id uuid.UUID, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.prospects {
		if p.ID == id {
			p.ProviderID = providerID
		}
	}
	return nil
}

func (r prospectRepo) filter(keep func(*model.Prospect) bool) []*model.Prospect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Prospect{}
	for _, p := range r.prospects {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// queueRepo

type queueRepo struct{ *store }

var _ repository.SendQueueRepositoryInterface = queueRepo{}

func (r queueRepo) GetByID(_ context.Context, id uuid.UUID) (*model.SendQueueItem, error) {
	if item := r.item(id); item != nil {
		return item, nil
	}
	return nil, appErrors.NewQueueItemNotFound(id)
}

func (r queueRepo) FindActive(_ context.Context, prospectID uuid.UUID, stage model.Stage) (*model.SendQueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item := r.activeLocked(prospectID, stage); item != nil {
		cp := *item
		return &cp, nil
	}
	return nil, nil
}

func (r queueRepo) activeLocked(prospectID uuid.UUID, stage model.Stage) *model.SendQueueItem {
	for _, item := range r.items {
		if item.ProspectID == prospectID && item.Stage == stage && item.Active() {
			return item
		}
	}
	return nil
}

func (r queueRepo) Insert(_ context.Context, item *model.SendQueueItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeLocked(item.ProspectID, item.Stage) != nil {
		return false, nil
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = model.QueueStatusPending
	}
	item.CreatedAt = r.clock.Now()
	item.UpdatedAt = item.CreatedAt
	cp := *item
	r.items = append(r.items, &cp)
	return true, nil
}

func (r queueRepo) LatestPendingSlot(_ context.Context, accountID uuid.UUID) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *time.Time
	for _, item := range r.items {
		if item.AccountID != accountID || item.Status != model.QueueStatusPending {
			continue
		}
		if kind, _ := item.Stage.Parts(); kind == model.StageKindFollowUp {
			continue
		}
		if latest == nil || item.ScheduledFor.After(*latest) {
			t := item.ScheduledFor
			latest = &t
		}
	}
	return latest, nil
}

func (r queueRepo) StatusCounts(_ context.Context, campaignID uuid.UUID) (map[model.QueueStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[model.QueueStatus]int{
		model.QueueStatusPending:    0,
		model.QueueStatusProcessing: 0,
		model.QueueStatusSent:       0,
		model.QueueStatusFailed:     0,
	}
	for _, item := range r.items {
		if item.CampaignID == campaignID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

func (r queueRepo) CountSentSince(_ context.Context, accountID uuid.UUID, connectionRequests bool, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.AccountID == accountID &&
			item.Status == model.QueueStatusSent &&
			item.Stage.IsConnectionRequest() == connectionRequests &&
			item.SentAt != nil && !item.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r queueRepo) ListDue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	for _, item := range r.sorted(func(i *model.SendQueueItem) bool { return i.Due(now) }) {
		if len(ids) == limit {
			break
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (r queueRepo) Claim(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if !item.Due(now) {
			return false
		}
		item.Status = model.QueueStatusProcessing
		return true
	}), nil
}

func (r queueRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.SendQueueItem, error) {
	ids, _ := r.ListDue(ctx, now, limit)
	out := []*model.SendQueueItem{}
	for _, id := range ids {
		if ok, _ := r.Claim(ctx, id, now); ok {
			out = append(out, r.item(id))
		}
	}
	return out, nil
}

func (r queueRepo) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusProcessing {
			return false
		}
		item.Status = model.QueueStatusSent
		item.SentAt = &sentAt
		item.ErrorDetail = nil
		return true
	}), nil
}

func (r queueRepo) MarkRetry(_ context.Context, id uuid.UUID, next time.Time) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusProcessing {
			return false
		}
		item.Status = model.QueueStatusPending
		item.ScheduledFor = next
		item.ErrorDetail = nil
		item.RetryCount++
		return true
	}), nil
}

func (r queueRepo) Defer(_ context.Context, id uuid.UUID, next time.Time) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusProcessing {
			return false
		}
		item.Status = model.QueueStatusPending
		item.ScheduledFor = next
		return true
	}), nil
}

func (r queueRepo) MarkFailed(_ context.Context, id uuid.UUID, detail string) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusProcessing {
			return false
		}
		item.Status = model.QueueStatusFailed
		item.ErrorDetail = &detail
		return true
	}), nil
}

func (r queueRepo) SetTarget(_ context.Context, id uuid.UUID, target string) error {
	r.update(id, func(item *model.SendQueueItem) bool {
		item.Target = target
		return true
	})
	return nil
}

func (r queueRepo) ListFailedMatching(_ context.Context, pattern string, maxAttempts, limit int) ([]*model.SendQueueItem, error) {
	out := r.sorted(func(i *model.SendQueueItem) bool {
		return i.Status == model.QueueStatusFailed && ilike(i.LastError(), pattern) &&
			i.RepairedAt == nil && i.RepairAttempts < maxAttempts
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r queueRepo) CountUnrepairable(_ context.Context, pattern string, maxAttempts int) (int, error) {
	out := r.sorted(func(i *model.SendQueueItem) bool {
		return i.Status == model.QueueStatusFailed && ilike(i.LastError(), pattern) &&
			(i.RepairedAt != nil || i.RepairAttempts >= maxAttempts)
	})
	return len(out), nil
}

func (r queueRepo) ResetFailed(_ context.Context, id uuid.UUID, target string, scheduledFor time.Time) (bool, error) {
	now := r.clock.Now()
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusFailed || item.RepairedAt != nil {
			return false
		}
		item.Status = model.QueueStatusPending
		item.Target = target
		item.ScheduledFor = scheduledFor
		item.ErrorDetail = nil
		item.RepairAttempts++
		item.RepairedAt = &now
		return true
	}), nil
}

func (r queueRepo) NoteRepairAttempt(_ context.Context, id uuid.UUID) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusFailed {
			return false
		}
		item.RepairAttempts++
		return true
	}), nil
}

func (r queueRepo) ListOverdue(_ context.Context, filter repository.OverdueFilter) ([]*model.SendQueueItem, error) {
	out := r.sorted(func(i *model.SendQueueItem) bool {
		if filter.CampaignID != nil && i.CampaignID != *filter.CampaignID {
			return false
		}
		return i.Status == model.QueueStatusPending && i.ScheduledFor.Before(filter.Before)
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r queueRepo) Reschedule(_ context.Context, id uuid.UUID, scheduledFor time.Time) (bool, error) {
	return r.update(id, func(item *model.SendQueueItem) bool {
		if item.Status != model.QueueStatusPending {
			return false
		}
		item.ScheduledFor = scheduledFor
		return true
	}), nil
}

func (r queueRepo) ListStuck(_ context.Context, updatedBefore time.Time, limit int) ([]*model.SendQueueItem, error) {
	out := r.sorted(func(i *model.SendQueueItem) bool {
		return i.Status == model.QueueStatusProcessing && i.UpdatedAt.Before(updatedBefore)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r queueRepo) ListUnsettled(_ context.Context, limit int) ([]repository.UnsettledDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := map[uuid.UUID]model.ProspectStatus{}
	for _, p := range r.prospects {
		status[p.ID] = p.Status
	}
	active := map[uuid.UUID]bool{}
	for _, item := range r.items {
		if item.Active() {
			active[item.ProspectID] = true
		}
	}
	out := []repository.UnsettledDelivery{}
	for _, item := range r.items {
		s := status[item.ProspectID]
		if item.Status != model.QueueStatusSent || active[item.ProspectID] {
			continue
		}
		if s == model.ProspectStatusQueued || s == model.ProspectStatusProcessing {
			out = append(out, repository.UnsettledDelivery{ItemID: item.ID, ProspectID: item.ProspectID, ProspectStatus: s})
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r queueRepo) PendingTargetQuality(_ context.Context, sample int) (*repository.TargetQuality, error) {
	q := &repository.TargetQuality{SampleItems: []uuid.UUID{}}
	for _, item := range r.sorted(func(i *model.SendQueueItem) bool { return i.Status == model.QueueStatusPending }) {
		q.Pending++
		if !model.IsProviderID(item.Target) {
			q.Unresolved++
			if len(q.SampleItems) < sample {
				q.SampleItems = append(q.SampleItems, item.ID)
			}
		}
	}
	return q, nil
}

func (r queueRepo) update(id uuid.UUID, apply func(*model.SendQueueItem) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			if !apply(item) {
				return false
			}
			item.UpdatedAt = r.clock.Now()
			return true
		}
	}
	return false
}

func (r queueRepo) sorted(keep func(*model.SendQueueItem) bool) []*model.SendQueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.SendQueueItem{}
	for _, item := range r.items {
		if keep(item) {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

// ilike handles the %-only patterns the services use.
func ilike(s, pattern string) bool {
	s = strings.ToLower(s)
	for _, part := range strings.Split(strings.ToLower(pattern), "%") {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return true
}

func hasStatus(list []model.ProspectStatus, s model.ProspectStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fakeProvider resolves vanities from a fixed table and records deliveries.
type fakeProvider struct {
	mu          sync.Mutex
	profiles    map[string]string
	sendErr     error
	resolveErr  error
	resolved    []string
	invitations []delivery
	messages    []delivery
}

type delivery struct {
	AccountID  string
	ProviderID string
	Message    string
}

var _ provider.Client = (*fakeProvider)(nil)

func (f *fakeProvider) ResolveProfile(_ context.Context, _ string, vanity string) (*provider.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, vanity)
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	id, ok := f.profiles[vanity]
	if !ok {
		return nil, &provider.Error{StatusCode: 404, Title: "User not found"}
	}
	return &provider.Profile{ProviderID: id, PublicID: vanity}, nil
}

func (f *fakeProvider) SendInvitation(_ context.Context, accountID, providerID, message string) (*provider.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.invitations = append(f.invitations, delivery{accountID, providerID, message})
	return &provider.Receipt{InvitationID: "inv-" + providerID}, nil
}

func (f *fakeProvider) SendMessage(_ context.Context, accountID, providerID, message string) (*provider.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, delivery{accountID, providerID, message})
	return &provider.Receipt{MessageID: "msg-" + providerID}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alert notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []string{}
	for _, a := range n.alerts {
		out = append(out, a.Title)
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

var _ metrics.Recorder = (*recordingMetrics)(nil)

func (m *recordingMetrics) RecordOutcome(component, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[component+"/"+outcome] += n
}

func (m *recordingMetrics) RecordDuration(string, string, time.Duration) {}

func (m *recordingMetrics) count(component, outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[component+"/"+outcome]
}

// fixture wires every service against one store.
type fixture struct {
	clock     *testClock
	store     *store
	provider  *fakeProvider
	notifier  *recordingNotifier
	workspace uuid.UUID
	account   *model.OutreachAccount

	scheduler  *service.Scheduler
	executor   *service.Executor
	repairer   *service.Repairer
	reconciler *service.Reconciler
	validator  *service.Validator
}

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	clock := &testClock{now: baseTime}
	st := newStore(clock)
	f := &fixture{
		clock:     clock,
		store:     st,
		provider:  &fakeProvider{profiles: map[string]string{}},
		notifier:  &recordingNotifier{},
		workspace: uuid.New(),
	}
	f.account = st.addAccount(&model.OutreachAccount{
		WorkspaceID:       f.workspace,
		ProviderAccountID: "acc-primary",
		Name:              "Primary",
		ConnectionStatus:  model.AccountConnected,
		CreatedAt:         baseTime.Add(-30 * 24 * time.Hour),
	})

	campaigns, prospects, queue, accounts := campaignRepo{st}, prospectRepo{st}, queueRepo{st}, accountRepo{st}
	spacer := service.NewSpacer(20*time.Minute, 45*time.Minute, 7)

	f.scheduler = &service.Scheduler{
		Prospects: prospects,
		Queue:     queue,
		Accounts:  &service.AccountSelector{Accounts: accounts, PreferredCapability: "premium"},
		Spacer:    spacer,
		Clock:     clock,
	}
	f.executor = &service.Executor{
		Campaigns:  campaigns,
		Prospects:  prospects,
		Queue:      queue,
		Accounts:   accounts,
		Provider:   f.provider,
		Classifier: service.MustDefaultClassifier(),
		FollowUps:  f.scheduler,
		Notifier:   f.notifier,
		Clock:      clock,
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryBase:  5 * time.Minute,
		RetryMax:   2 * time.Hour,
	}
	f.repairer = &service.Repairer{
		Campaigns: campaigns,
		Prospects: prospects,
		Queue:     queue,
		Accounts:  accounts,
		Provider:  f.provider,
		Scheduler: f.scheduler,
		Spacer:    spacer,
		Clock:     clock,
		Timeout:   time.Second,
	}
	f.reconciler = &service.Reconciler{
		Campaigns:       campaigns,
		Prospects:       prospects,
		Queue:           queue,
		Repairer:        f.repairer,
		Notifier:        f.notifier,
		Clock:           clock,
		StuckAfter:      30 * time.Minute,
		Warmup:          10 * time.Minute,
		OverdueAfter:    time.Hour,
		IdentifierBatch: 20,
		OverdueBatch:    50,
	}
	f.validator = &service.Validator{
		Campaigns:          campaigns,
		Prospects:          prospects,
		Queue:              queue,
		Accounts:           accounts,
		Repairer:           f.repairer,
		Clock:              clock,
		StuckApprovedAfter: time.Hour,
		OverdueAfter:       time.Hour,
		OverdueBatch:       50,
	}
	return f
}

func (f *fixture) connectorCampaign() *model.Campaign {
	id := f.account.ID
	return f.store.addCampaign(&model.Campaign{
		WorkspaceID: f.workspace,
		Name:        "Founders outreach",
		Type:        model.CampaignTypeConnector,
		Status:      model.CampaignStatusActive,
		Templates: model.MessageTemplates{
			ConnectionRequest: "Hi {first_name}, would love to connect.",
			FollowUpMessages:  []string{"Thanks for connecting, {first_name}!", "How is {company} doing?"},
		},
		LinkedAccountID: &id,
		CreatedAt:       baseTime.Add(-24 * time.Hour),
	})
}

func (f *fixture) prospect(c *model.Campaign, status model.ProspectStatus, url, providerID string) *model.Prospect {
	return f.store.addProspect(&model.Prospect{
		CampaignID: c.ID,
		FirstName:  "Jane",
		LastName:   "Doe",
		Company:    "Acme",
		ProfileURL: url,
		ProviderID: providerID,
		Status:     status,
		CreatedAt:  baseTime.Add(-48 * time.Hour),
		UpdatedAt:  baseTime.Add(-2 * time.Hour),
	})
}
