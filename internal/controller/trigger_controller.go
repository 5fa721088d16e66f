// internal/controller/trigger_controller.go
package controller

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/httputil"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type Sweeper interface {
	Sweep(ctx context.Context, opts service.SweepOptions) (*service.SweepReport, error)
}

type BatchExecutor interface {
	RunDue(ctx context.Context, limit int) (*service.ExecutionBatchResult, error)
}

type JobDispatcher interface {
	Dispatch(ctx context.Context, limit int) (*service.DispatchResult, error)
}

// TriggerController serves the cron endpoints. Every route is expected to sit
// behind RequireCronSecret except ManualReconcile, which authorises itself.
type TriggerController struct {
	Reconciler Sweeper
	Executor   BatchExecutor
	Dispatcher JobDispatcher
	Logger     *zap.Logger

	CronSecret           string
	ManualTriggerEnabled bool
	DefaultBatch         int
}

const maxBatch = 500

func (c *TriggerController) Reconcile(w http.ResponseWriter, r *http.Request) {
	autoFix := true
	if raw := r.URL.Query().Get("auto_fix"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.HandleBadRequest(w, fmt.Errorf("invalid auto_fix: %q", raw), c.Logger)
			return
		}
		autoFix = v
	}

	report, err := c.Reconciler.Sweep(r.Context(), service.SweepOptions{AutoFix: autoFix})
	if err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (c *TriggerController) Execute(w http.ResponseWriter, r *http.Request) {
	limit, err := c.batchLimit(r)
	if err != nil {
		httputil.HandleBadRequest(w, err, c.Logger)
		return
	}

	result, err := c.Executor.RunDue(r.Context(), limit)
	if err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (c *TriggerController) Dispatch(w http.ResponseWriter, r *http.Request) {
	limit, err := c.batchLimit(r)
	if err != nil {
		httputil.HandleBadRequest(w, err, c.Logger)
		return
	}

	result, err := c.Dispatcher.Dispatch(r.Context(), limit)
	if err != nil {
		httputil.HandleError(w, err, c.Logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// ManualReconcile runs the reconcile handler with the configured secret
// attached, so operators can trigger a sweep without holding the secret.
func (c *TriggerController) ManualReconcile(w http.ResponseWriter, r *http.Request) {
	if !c.ManualTriggerEnabled {
		http.NotFound(w, r)
		return
	}

	authorised := r.Clone(r.Context())
	authorised.Header.Set(CronSecretHeader, c.CronSecret)

	if c.Logger != nil {
		c.Logger.Info("manual reconciliation triggered", zap.String("remote_addr", r.RemoteAddr))
	}
	RequireCronSecret(c.CronSecret)(http.HandlerFunc(c.Reconcile)).ServeHTTP(w, authorised)
}

func (c *TriggerController) batchLimit(r *http.Request) (int, error) {
	limit := c.DefaultBatch
	if limit <= 0 {
		limit = 25
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return 0, fmt.Errorf("invalid limit: %q", raw)
		}
		limit = v
	}
	if limit > maxBatch {
		limit = maxBatch
	}
	return limit, nil
}
