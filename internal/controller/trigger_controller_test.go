package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/controller"
	"github.com/unclebandit/outreach-engine/internal/service"
)

const secret = "s3cret"

type MockSweeper struct {
	calls []service.SweepOptions
	err   error
}

func (m *MockSweeper) Sweep(_ context.Context, opts service.SweepOptions) (*service.SweepReport, error) {
	m.calls = append(m.calls, opts)
	if m.err != nil {
		return nil, m.err
	}
	return &service.SweepReport{AutoFix: opts.AutoFix, Checks: []service.CheckResult{}}, nil
}

type MockExecutor struct {
	limits []int
}

func (m *MockExecutor) RunDue(_ context.Context, limit int) (*service.ExecutionBatchResult, error) {
	m.limits = append(m.limits, limit)
	return &service.ExecutionBatchResult{}, nil
}

type MockDispatcher struct {
	limits []int
}

func (m *MockDispatcher) Dispatch(_ context.Context, limit int) (*service.DispatchResult, error) {
	m.limits = append(m.limits, limit)
	return &service.DispatchResult{Due: 2, Published: 2}, nil
}

type triggerFixture struct {
	sweeper    *MockSweeper
	executor   *MockExecutor
	dispatcher *MockDispatcher
	router     chi.Router
}

func newTriggerFixture(cronSecret string, manual bool) *triggerFixture {
	f := &triggerFixture{
		sweeper:    &MockSweeper{},
		executor:   &MockExecutor{},
		dispatcher: &MockDispatcher{},
		router:     chi.NewRouter(),
	}
	ctrl := &controller.TriggerController{
		Reconciler:           f.sweeper,
		Executor:             f.executor,
		Dispatcher:           f.dispatcher,
		CronSecret:           cronSecret,
		ManualTriggerEnabled: manual,
		DefaultBatch:         25,
	}
	ctrl.Mount(f.router)
	return f
}

func (f *triggerFixture) do(method, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if header != "" {
		req.Header.Set(controller.CronSecretHeader, header)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTrigger_RejectsMissingOrWrongSecret(t *testing.T) {
	f := newTriggerFixture(secret, false)

	for _, path := range []string{"/cron/reconcile", "/cron/execute", "/cron/dispatch"} {
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, path, "").Code, path)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, path, "wrong").Code, path)
	}
	assert.Empty(t, f.sweeper.calls)
	assert.Empty(t, f.executor.limits)
	assert.Empty(t, f.dispatcher.limits)
}

func TestTrigger_EmptySecretRejectsEverything(t *testing.T) {
	f := newTriggerFixture("", false)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/cron/reconcile", "").Code)
	assert.Empty(t, f.sweeper.calls)
}

func TestTrigger_Reconcile(t *testing.T) {
	f := newTriggerFixture(secret, false)

	w := f.do(http.MethodPost, "/cron/reconcile", secret)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodPost, "/cron/reconcile?auto_fix=false", secret)
	require.Equal(t, http.StatusOK, w.Code)

	var report service.SweepReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.False(t, report.AutoFix)
	assert.Equal(t, []service.SweepOptions{{AutoFix: true}, {AutoFix: false}}, f.sweeper.calls)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/cron/reconcile?auto_fix=maybe", secret).Code)
	assert.Len(t, f.sweeper.calls, 2)
}

func TestTrigger_ReconcileFailureIsInternalError(t *testing.T) {
	f := newTriggerFixture(secret, false)
	f.sweeper.err = errors.New("db down")

	w := f.do(http.MethodPost, "/cron/reconcile", secret)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestTrigger_BatchLimits(t *testing.T) {
	f := newTriggerFixture(secret, false)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/cron/execute", secret).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/cron/execute?limit=5", secret).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/cron/execute?limit=100000", secret).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/cron/execute?limit=0", secret).Code)
	assert.Equal(t, []int{25, 5, 500}, f.executor.limits)

	w := f.do(http.MethodPost, "/cron/dispatch?limit=7", secret)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{7}, f.dispatcher.limits)
	assert.JSONEq(t, `{"due":2,"published":2,"failed":0,"item_ids":null}`, w.Body.String())
}

func TestTrigger_ManualReconcile(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newTriggerFixture(secret, false)
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/cron/reconcile/manual", "").Code)
		assert.Empty(t, f.sweeper.calls)
	})

	t.Run("enabled", func(t *testing.T) {
		f := newTriggerFixture(secret, true)
		w := f.do(http.MethodPost, "/cron/reconcile/manual?auto_fix=false", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []service.SweepOptions{{AutoFix: false}}, f.sweeper.calls)
	})

	t.Run("enabled without a secret still rejects", func(t *testing.T) {
		f := newTriggerFixture("", true)
		assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/cron/reconcile/manual", "").Code)
		assert.Empty(t, f.sweeper.calls)
	})
}
