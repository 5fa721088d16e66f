package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type AccountRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.OutreachAccount, error)
	// ListConnected returns the workspace's connected accounts, oldest first.
	ListConnected(ctx context.Context, workspaceID uuid.UUID) ([]*model.OutreachAccount, error)
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)

type AccountRepository struct {
	DB *sql.DB
}

const accountColumns = `id, workspace_id, provider_account_id, account_name, connection_status,
    capabilities, daily_connection_limit, daily_message_limit, created_at`

func scanAccount(row scanner) (*model.OutreachAccount, error) {
	var a model.OutreachAccount
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.ProviderAccountID, &a.Name, &a.ConnectionStatus,
		pq.Array(&a.Capabilities), &a.DailyConnectionLimit, &a.DailyMessageLimit, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.OutreachAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM outreach_accounts WHERE id=$1`
	a, err := scanAccount(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewAccountNotFound(id)
		}
		return nil, err
	}
	return a, nil
}

func (r *AccountRepository) ListConnected(ctx context.Context, workspaceID uuid.UUID) ([]*model.OutreachAccount, error) {
	query := `SELECT ` + accountColumns + `
        FROM outreach_accounts
        WHERE workspace_id=$1 AND connection_status=$2
        ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, workspaceID, model.AccountConnected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []*model.OutreachAccount{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
