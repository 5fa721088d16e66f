package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// OverdueFilter narrows ListOverdue. A nil CampaignID means every campaign.
type OverdueFilter struct {
	CampaignID *uuid.UUID
	Before     time.Time
	Limit      int
}

// UnsettledDelivery is a sent row whose prospect never left queued/processing.
type UnsettledDelivery struct {
	ItemID         uuid.UUID
	ProspectID     uuid.UUID
	ProspectStatus model.ProspectStatus
}

type TargetQuality struct {
	Pending     int
	Unresolved  int
	SampleItems []uuid.UUID
}

type SendQueueRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.SendQueueItem, error)
	// FindActive returns the pending/processing row for (prospect, stage), or nil.
	FindActive(ctx context.Context, prospectID uuid.UUID, stage model.Stage) (*model.SendQueueItem, error)
	// Insert reports false when an active row for (prospect, stage) already exists.
	Insert(ctx context.Context, item *model.SendQueueItem) (bool, error)
	LatestPendingSlot(ctx context.Context, accountID uuid.UUID) (*time.Time, error)
	StatusCounts(ctx context.Context, campaignID uuid.UUID) (map[model.QueueStatus]int, error)
	CountSentSince(ctx context.Context, accountID uuid.UUID, connectionRequests bool, since time.Time) (int, error)

	ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.SendQueueItem, error)

	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error)
	MarkRetry(ctx context.Context, id uuid.UUID, next time.Time) (bool, error)
	Defer(ctx context.Context, id uuid.UUID, next time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, detail string) (bool, error)
	SetTarget(ctx context.Context, id uuid.UUID, target string) error

	// ListFailedMatching returns failed rows whose detail matches pattern, that
	// were never reset and have fewer than maxAttempts repair attempts,
	// least recently touched first.
	ListFailedMatching(ctx context.Context, pattern string, maxAttempts, limit int) ([]*model.SendQueueItem, error)
	// CountUnrepairable counts matching failed rows the repair pass gave up on.
	CountUnrepairable(ctx context.Context, pattern string, maxAttempts int) (int, error)
	ResetFailed(ctx context.Context, id uuid.UUID, target string, scheduledFor time.Time) (bool, error)
	// NoteRepairAttempt records a repair pass that left the failed row as is.
	NoteRepairAttempt(ctx context.Context, id uuid.UUID) (bool, error)
	ListOverdue(ctx context.Context, filter OverdueFilter) ([]*model.SendQueueItem, error)
	Reschedule(ctx context.Context, id uuid.UUID, scheduledFor time.Time) (bool, error)
	ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.SendQueueItem, error)

	ListUnsettled(ctx context.Context, limit int) ([]UnsettledDelivery, error)
	PendingTargetQuality(ctx context.Context, sample int) (*TargetQuality, error)
}

var _ SendQueueRepositoryInterface = (*SendQueueRepository)(nil)

type SendQueueRepository struct {
	DB *sql.DB
}

const queueColumns = `id, campaign_id, prospect_id, account_id, stage, message, target, scheduled_for,
    status, error_detail, retry_count, sent_at, created_at, updated_at, repair_attempts, repaired_at`

func scanQueueItem(row scanner) (*model.SendQueueItem, error) {
	var q model.SendQueueItem
	var detail sql.NullString
	var sentAt, repairedAt sql.NullTime
	err := row.Scan(
		&q.ID, &q.CampaignID, &q.ProspectID, &q.AccountID, &q.Stage, &q.Message, &q.Target,
		&q.ScheduledFor, &q.Status, &detail, &q.RetryCount, &sentAt, &q.CreatedAt, &q.UpdatedAt,
		&q.RepairAttempts, &repairedAt,
	)
	if err != nil {
		return nil, err
	}
	if detail.Valid {
		d := detail.String
		q.ErrorDetail = &d
	}
	if sentAt.Valid {
		t := sentAt.Time
		q.SentAt = &t
	}
	if repairedAt.Valid {
		t := repairedAt.Time
		q.RepairedAt = &t
	}
	return &q, nil
}

func (r *SendQueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SendQueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM send_queue WHERE id=$1`
	item, err := scanQueueItem(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewQueueItemNotFound(id)
		}
		return nil, err
	}
	return item, nil
}

func (r *SendQueueRepository) FindActive(ctx context.Context, prospectID uuid.UUID, stage model.Stage) (*model.SendQueueItem, error) {
	query := `SELECT ` + queueColumns + `
        FROM send_queue
        WHERE prospect_id=$1 AND stage=$2 AND status = ANY($3)
        LIMIT 1`
	item, err := scanQueueItem(r.DB.QueryRowContext(ctx, query, prospectID, stage, queueStatuses(model.ActiveQueueStatuses)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

// Insert is idempotent: the partial unique index on (prospect_id, stage)
// turns a concurrent duplicate into a no-op.
func (r *SendQueueRepository) Insert(ctx context.Context, item *model.SendQueueItem) (bool, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = model.QueueStatusPending
	}
	query := `
        INSERT INTO send_queue (id, campaign_id, prospect_id, account_id, stage, message, target,
            scheduled_for, status, retry_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, NOW(), NOW())
        ON CONFLICT (prospect_id, stage) WHERE status IN ('pending', 'processing') DO NOTHING
    `
	res, err := r.DB.ExecContext(ctx, query,
		item.ID, item.CampaignID, item.ProspectID, item.AccountID, item.Stage, item.Message,
		item.Target, item.ScheduledFor, item.Status,
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

// LatestPendingSlot ignores follow-ups, which are placed days ahead and would
// otherwise push every new opening send behind them.
func (r *SendQueueRepository) LatestPendingSlot(ctx context.Context, accountID uuid.UUID) (*time.Time, error) {
	var latest sql.NullTime
	err := r.DB.QueryRowContext(ctx,
		`SELECT MAX(scheduled_for) FROM send_queue
         WHERE account_id=$1 AND status=$2 AND stage NOT LIKE 'follow_up_%'`,
		accountID, model.QueueStatusPending,
	).Scan(&latest)
	if err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time
	return &t, nil
}

func (r *SendQueueRepository) StatusCounts(ctx context.Context, campaignID uuid.UUID) (map[model.QueueStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM send_queue WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[model.QueueStatus]int{
		model.QueueStatusPending:    0,
		model.QueueStatusProcessing: 0,
		model.QueueStatusSent:       0,
		model.QueueStatusFailed:     0,
	}
	for rows.Next() {
		var status model.QueueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (r *SendQueueRepository) CountSentSince(
	ctx context.Context,
	accountID uuid.UUID,
	connectionRequests bool,
	since time.Time,
) (int, error) {
	op := "<>"
	if connectionRequests {
		op = "="
	}
	query := `SELECT COUNT(*) FROM send_queue
        WHERE account_id=$1 AND status=$2 AND sent_at >= $3 AND stage ` + op + ` $4`
	var n int
	err := r.DB.QueryRowContext(ctx, query,
		accountID, model.QueueStatusSent, since, model.StageConnectionRequest,
	).Scan(&n)
	return n, err
}

func (r *SendQueueRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id FROM send_queue WHERE status=$1 AND scheduled_for <= $2 ORDER BY scheduled_for LIMIT $3`,
		model.QueueStatusPending, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SendQueueRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET status=$1, updated_at=$2
         WHERE id=$3 AND status=$4 AND scheduled_for <= $2`,
		model.QueueStatusProcessing, now, id, model.QueueStatusPending,
	)
}

// ClaimDue moves up to limit due rows to processing in one statement. Rows
// locked by a concurrent claimer are skipped.
func (r *SendQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.SendQueueItem, error) {
	query := `
        UPDATE send_queue SET status=$1, updated_at=$2
        WHERE id IN (
            SELECT id FROM send_queue
            WHERE status=$3 AND scheduled_for <= $2
            ORDER BY scheduled_for
            LIMIT $4
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + queueColumns
	rows, err := r.DB.QueryContext(ctx, query, model.QueueStatusProcessing, now, model.QueueStatusPending, limit)
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *SendQueueRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET status=$1, sent_at=$2, error_detail=NULL, updated_at=$2
         WHERE id=$3 AND status=$4`,
		model.QueueStatusSent, sentAt, id, model.QueueStatusProcessing,
	)
}

func (r *SendQueueRepository) MarkRetry(ctx context.Context, id uuid.UUID, next time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET status=$1, scheduled_for=$2, error_detail=NULL,
             retry_count=retry_count+1, updated_at=NOW()
         WHERE id=$3 AND status=$4`,
		model.QueueStatusPending, next, id, model.QueueStatusProcessing,
	)
}

func (r *SendQueueRepository) Defer(ctx context.Context, id uuid.UUID, next time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET status=$1, scheduled_for=$2, updated_at=NOW()
         WHERE id=$3 AND status=$4`,
		model.QueueStatusPending, next, id, model.QueueStatusProcessing,
	)
}

func (r *SendQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, detail string) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET status=$1, error_detail=$2, updated_at=NOW()
         WHERE id=$3 AND status=$4`,
		model.QueueStatusFailed, detail, id, model.QueueStatusProcessing,
	)
}

func (r *SendQueueRepository) SetTarget(ctx context.Context, id uuid.UUID, target string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE send_queue SET target=$1, updated_at=NOW() WHERE id=$2`,
		target, id,
	)
	return err
}

func (r *SendQueueRepository) ListFailedMatching(
	ctx context.Context,
	pattern string,
	maxAttempts int,
	limit int,
) ([]*model.SendQueueItem, error) {
	query := `SELECT ` + queueColumns + `
        FROM send_queue
        WHERE status=$1 AND error_detail ILIKE $2 AND repaired_at IS NULL AND repair_attempts < $3
        ORDER BY updated_at
        LIMIT $4`
	rows, err := r.DB.QueryContext(ctx, query, model.QueueStatusFailed, pattern, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *SendQueueRepository) ResetFailed(
	ctx context.Context,
	id uuid.UUID,
	target string,
	scheduledFor time.Time,
) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET status=$1, target=$2, scheduled_for=$3, error_detail=NULL,
             repair_attempts=repair_attempts+1, repaired_at=NOW(), updated_at=NOW()
         WHERE id=$4 AND status=$5 AND repaired_at IS NULL`,
		model.QueueStatusPending, target, scheduledFor, id, model.QueueStatusFailed,
	)
}

// NoteRepairAttempt also touches updated_at, which moves the row behind the
// rest of the backlog.
func (r *SendQueueRepository) NoteRepairAttempt(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET repair_attempts=repair_attempts+1, updated_at=NOW()
         WHERE id=$1 AND status=$2`,
		id, model.QueueStatusFailed,
	)
}

func (r *SendQueueRepository) CountUnrepairable(ctx context.Context, pattern string, maxAttempts int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM send_queue
         WHERE status=$1 AND error_detail ILIKE $2 AND (repaired_at IS NOT NULL OR repair_attempts >= $3)`,
		model.QueueStatusFailed, pattern, maxAttempts,
	).Scan(&n)
	return n, err
}

func (r *SendQueueRepository) ListOverdue(ctx context.Context, filter OverdueFilter) ([]*model.SendQueueItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.CampaignID != nil {
		query := `SELECT ` + queueColumns + `
            FROM send_queue
            WHERE status=$1 AND scheduled_for < $2 AND campaign_id=$3
            ORDER BY account_id, scheduled_for
            LIMIT $4`
		rows, err = r.DB.QueryContext(ctx, query, model.QueueStatusPending, filter.Before, *filter.CampaignID, filter.Limit)
	} else {
		query := `SELECT ` + queueColumns + `
            FROM send_queue
            WHERE status=$1 AND scheduled_for < $2
            ORDER BY account_id, scheduled_for
            LIMIT $3`
		rows, err = r.DB.QueryContext(ctx, query, model.QueueStatusPending, filter.Before, filter.Limit)
	}
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *SendQueueRepository) Reschedule(ctx context.Context, id uuid.UUID, scheduledFor time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE send_queue SET scheduled_for=$1, updated_at=NOW() WHERE id=$2 AND status=$3`,
		scheduledFor, id, model.QueueStatusPending,
	)
}

func (r *SendQueueRepository) ListStuck(ctx context.Context, updatedBefore time.Time, limit int) ([]*model.SendQueueItem, error) {
	query := `SELECT ` + queueColumns + `
        FROM send_queue
        WHERE status=$1 AND updated_at < $2
        ORDER BY updated_at
        LIMIT $3`
	rows, err := r.DB.QueryContext(ctx, query, model.QueueStatusProcessing, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectQueueItems(rows)
}

func (r *SendQueueRepository) ListUnsettled(ctx context.Context, limit int) ([]UnsettledDelivery, error) {
	query := `
        SELECT q.id, q.prospect_id, p.status
        FROM send_queue q
        JOIN prospects p ON p.id = q.prospect_id
        WHERE q.status = $1
          AND p.status = ANY($2)
          AND NOT EXISTS (
              SELECT 1 FROM send_queue a
              WHERE a.prospect_id = q.prospect_id AND a.status = ANY($3)
          )
        ORDER BY q.sent_at DESC
        LIMIT $4
    `
	rows, err := r.DB.QueryContext(ctx, query,
		model.QueueStatusSent,
		prospectStatuses([]model.ProspectStatus{model.ProspectStatusQueued, model.ProspectStatusProcessing}),
		queueStatuses(model.ActiveQueueStatuses),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UnsettledDelivery{}
	for rows.Next() {
		var u UnsettledDelivery
		if err := rows.Scan(&u.ItemID, &u.ProspectID, &u.ProspectStatus); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PendingTargetQuality counts pending rows whose target is still a vanity or
// URL rather than a provider id.
func (r *SendQueueRepository) PendingTargetQuality(ctx context.Context, sample int) (*TargetQuality, error) {
	q := &TargetQuality{SampleItems: []uuid.UUID{}}
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE target NOT LIKE 'ACo%' AND target NOT LIKE 'ACw%')
        FROM send_queue WHERE status=$1`,
		model.QueueStatusPending,
	).Scan(&q.Pending, &q.Unresolved)
	if err != nil {
		return nil, err
	}
	if q.Unresolved == 0 {
		return q, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
        SELECT id FROM send_queue
        WHERE status=$1 AND target NOT LIKE 'ACo%' AND target NOT LIKE 'ACw%'
        ORDER BY scheduled_for LIMIT $2`,
		model.QueueStatusPending, sample,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		q.SampleItems = append(q.SampleItems, id)
	}
	return q, rows.Err()
}

func (r *SendQueueRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func collectQueueItems(rows *sql.Rows) ([]*model.SendQueueItem, error) {
	defer rows.Close()

	items := []*model.SendQueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
