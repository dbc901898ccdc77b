package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"premium-subscription-gateway/internal/domain"
	"premium-subscription-gateway/internal/domain/model"
	"premium-subscription-gateway/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

const subscriptionCols = `id, user_id, status, plan, amount::text, frequency, cycles,
       last_notification, processor_payment_id, created_at, updated_at`

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if s == nil || s.ID == "" || s.UserID == "" || !s.Status.Valid() {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO subscriptions (
  id, user_id, status, plan, amount, frequency, cycles, last_notification, processor_payment_id, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$11);`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, string(s.Status), s.Plan, s.Amount.StringFixed(2), s.Frequency, s.Cycles,
		s.LastNotification, s.ProcessorPaymentID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return err
		case isUniqueViolation(err):
			return domain.ErrAlreadyExists
		default:
			return domain.NewPersistenceError("subscription.create", err)
		}
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionCols + ` FROM subscriptions WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewPersistenceError("subscription.find", err)
	}
	return s, nil
}

// ApplyNotification writes status and audit fields only if the payload differs
// from the stored one and the current status may move to upd.Status. The
// check and the write are one statement, so concurrent deliveries of the same
// payload cannot both apply.
func (r *subscriptionRepo) ApplyNotification(ctx context.Context, tx repository.Tx, upd repository.NotificationUpdate) (*model.Subscription, repository.ApplyResult, error) {
	if upd.SubscriptionID == "" || !upd.Status.Valid() || upd.Raw == "" {
		return nil, repository.ApplyStale, domain.ErrInvalidArgument
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	allowed := make([]string, 0, 5)
	for _, s := range model.AllowedFrom(upd.Status) {
		allowed = append(allowed, string(s))
	}

	q := `
UPDATE subscriptions
   SET status=$2,
       last_notification=$3,
       processor_payment_id=COALESCE(NULLIF($4, ''), processor_payment_id),
       updated_at=$5
 WHERE id=$1
   AND last_notification IS DISTINCT FROM $3
   AND status = ANY($6::text[])
RETURNING ` + subscriptionCols + `;`

	row, err := pickRow(ctx, r.pool, tx, q, upd.SubscriptionID, string(upd.Status), upd.Raw, upd.ProcessorPaymentID, at, allowed)
	if err != nil {
		return nil, repository.ApplyStale, err
	}
	s, err := scanSubscription(row)
	if err == nil {
		return s, repository.ApplyApplied, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ApplyStale, domain.NewPersistenceError("subscription.apply", err)
	}

	// Nothing updated: find out why.
	cur, err := r.FindByID(ctx, tx, upd.SubscriptionID)
	if err != nil {
		return nil, repository.ApplyStale, err
	}
	if cur.LastNotification != nil && *cur.LastNotification == upd.Raw {
		return cur, repository.ApplyDuplicate, nil
	}
	return cur, repository.ApplyStale, nil
}

// LatestDecisiveByUser returns each user's most recently updated record among
// those in active, cancelled or failed, limited to users touched since updatedSince
// whose id sorts after afterUserID.
func (r *subscriptionRepo) LatestDecisiveByUser(ctx context.Context, tx repository.Tx, updatedSince time.Time, afterUserID string, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `
SELECT DISTINCT ON (user_id) ` + subscriptionCols + `
  FROM subscriptions
 WHERE status IN ('active','cancelled','failed')
   AND updated_at >= $1
   AND user_id > $2
 ORDER BY user_id, updated_at DESC
 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, updatedSince, afterUserID, limit)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.NewPersistenceError("subscription.latest_decisive", err)
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s      model.Subscription
		status string
		amount string
	)
	if err := row.Scan(&s.ID, &s.UserID, &status, &s.Plan, &amount, &s.Frequency, &s.Cycles,
		&s.LastNotification, &s.ProcessorPaymentID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	s.Amount = d
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
