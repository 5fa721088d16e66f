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

type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Campaign, error)
	ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error)
	// ListActiveCreatedBefore skips campaigns still inside their warm-up window.
	ListActiveCreatedBefore(ctx context.Context, before time.Time) ([]*model.Campaign, error)
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, workspace_id, name, campaign_type, status, message_templates,
    linked_account_id, created_at, updated_at`

func scanCampaign(row scanner) (*model.Campaign, error) {
	var c model.Campaign
	var linked uuid.NullUUID
	err := row.Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &c.Type, &c.Status, &c.Templates,
		&linked, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if linked.Valid {
		id := linked.UUID
		c.LinkedAccountID = &id
	}
	return &c, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Campaign, error) {
	if len(ids) == 0 {
		return []*model.Campaign{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ANY($1::uuid[]) ORDER BY created_at`
	return r.list(ctx, query, pq.Array(keys))
}

func (r *CampaignRepository) ListByStatus(ctx context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY created_at`
	return r.list(ctx, query, status)
}

func (r *CampaignRepository) ListActiveCreatedBefore(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 AND created_at < $2 ORDER BY created_at`
	return r.list(ctx, query, model.CampaignStatusActive, before)
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]*model.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
