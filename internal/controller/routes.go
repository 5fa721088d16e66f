package controller

import "github.com/go-chi/chi/v5"

// Mount registers the cron endpoints on r. The manual trigger stays outside
// the secret check.
func (c *TriggerController) Mount(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireCronSecret(c.CronSecret))
		r.Post("/cron/reconcile", c.Reconcile)
		r.Post("/cron/execute", c.Execute)
		r.Post("/cron/dispatch", c.Dispatch)
	})
	r.Post("/cron/reconcile/manual", c.ManualReconcile)
}

func (c *CampaignController) Mount(r chi.Router) {
	r.Post("/campaigns/validate", c.ValidateCampaigns)
	r.Post("/campaigns/{id}/schedule", c.ScheduleProspects)
}
