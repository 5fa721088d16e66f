package controller

import (
	"crypto/subtle"
	"net/http"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/httputil"
)

const CronSecretHeader = "X-Cron-Secret"

// RequireCronSecret rejects requests whose X-Cron-Secret header does not
// match secret. An empty secret rejects everything.
func RequireCronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(CronSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				httputil.HandleError(w, appErrors.ErrUnauthorized, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
