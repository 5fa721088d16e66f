package repository

import (
	"github.com/lib/pq"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func prospectStatuses(statuses []model.ProspectStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func queueStatuses(statuses []model.QueueStatus) any {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}
