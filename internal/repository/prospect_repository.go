package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type ProspectRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Prospect, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Prospect, error)
	ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Prospect, error)
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[model.ProspectStatus]int, error)

	// ListUnqueued returns prospects of the campaign in one of statuses, last
	// touched before updatedBefore, with a usable locator and no send_queue row.
	ListUnqueued(ctx context.Context, campaignID uuid.UUID, statuses []model.ProspectStatus, updatedBefore time.Time) ([]*model.Prospect, error)
	ListStuck(ctx context.Context, status model.ProspectStatus, updatedBefore time.Time, limit int) ([]*model.Prospect, error)

	// Transition moves the prospect to `to` only if its current status is one
	// of from. It reports whether a row was changed.
	Transition(ctx context.Context, id uuid.UUID, from []model.ProspectStatus, to model.ProspectStatus) (bool, error)
	UpdateProviderID(ctx context.Context, id uuid.UUID, providerID string) error
}

var _ ProspectRepositoryInterface = (*ProspectRepository)(nil)

type ProspectRepository struct {
	DB *sql.DB
}

const prospectColumns = `id, campaign_id, first_name, last_name, company_name, title,
    profile_url, provider_id, status, created_at, updated_at`

func scanProspect(row scanner) (*model.Prospect, error) {
	var p model.Prospect
	err := row.Scan(
		&p.ID, &p.CampaignID, &p.FirstName, &p.LastName, &p.Company, &p.Title,
		&p.ProfileURL, &p.ProviderID, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProspectRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id=$1`
	p, err := scanProspect(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewProspectNotFound(id)
		}
		return nil, err
	}
	return p, nil
}

func (r *ProspectRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Prospect, error) {
	if len(ids) == 0 {
		return []*model.Prospect{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`
	return r.list(ctx, query, pq.Array(keys))
}

func (r *ProspectRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE campaign_id=$1 ORDER BY created_at, id`
	return r.list(ctx, query, campaignID)
}

func (r *ProspectRepository) CountByStatus(ctx context.Context, campaignID uuid.UUID) (map[model.ProspectStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM prospects WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.ProspectStatus]int{}
	for rows.Next() {
		var status model.ProspectStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *ProspectRepository) ListUnqueued(
	ctx context.Context,
	campaignID uuid.UUID,
	statuses []model.ProspectStatus,
	updatedBefore time.Time,
) ([]*model.Prospect, error) {
	query := `
        SELECT ` + prospectColumns + `
        FROM prospects p
        WHERE p.campaign_id = $1
          AND p.status = ANY($2)
          AND p.updated_at < $3
          AND (btrim(p.profile_url) <> '' OR btrim(p.provider_id) <> '')
          AND NOT EXISTS (SELECT 1 FROM send_queue q WHERE q.prospect_id = p.id)
        ORDER BY p.created_at, p.id
    `
	return r.list(ctx, query, campaignID, prospectStatuses(statuses), updatedBefore)
}

func (r *ProspectRepository) ListStuck(
	ctx context.Context,
	status model.ProspectStatus,
	updatedBefore time.Time,
	limit int,
) ([]*model.Prospect, error) {
	query := `SELECT ` + prospectColumns + `
        FROM prospects WHERE status=$1 AND updated_at < $2
        ORDER BY updated_at LIMIT $3`
	return r.list(ctx, query, status, updatedBefore, limit)
}

func (r *ProspectRepository) Transition(
	ctx context.Context,
	id uuid.UUID,
	from []model.ProspectStatus,
	to model.ProspectStatus,
) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE prospects SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`,
		to, id, prospectStatuses(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ProspectRepository) UpdateProviderID(ctx context.Context, id uuid.UUID, providerID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE prospects SET provider_id=$1, updated_at=NOW() WHERE id=$2`, providerID, id)
	return err
}

func (r *ProspectRepository) list(ctx context.Context, query string, args ...any) ([]*model.Prospect, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prospects := []*model.Prospect{}
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}
