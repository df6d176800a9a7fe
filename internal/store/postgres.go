package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const subscriptionColumns = `id, follower_id, master_id, allocation, risk_factor, type, is_active,
	execution_lane, auto_renew, trading_window, invert_direction, expiry,
	current_equity, unrealized_pnl, shard, created_at, updated_at`

const masterColumns = `user_id, tier, followers_count, aum, followers_limit, aum_limit,
	monthly_fee, risk_score, max_drawdown_pct, roi, is_public, updated_at`

const uniqueViolation = "23505"

// Postgres implements Repository on top of sqlx and lib/pq.
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) GetSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	if err := p.db.GetContext(ctx, &sub, query, id); err != nil {
		return domain.Subscription{}, notFound(err, "get subscription")
	}
	return sub, nil
}

func (p *Postgres) ListActiveByFollower(ctx context.Context, followerID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE follower_id = $1 AND is_active ORDER BY created_at`
	if err := p.db.SelectContext(ctx, &subs, query, followerID); err != nil {
		return nil, fmt.Errorf("list active subscriptions by follower: %w", err)
	}
	return subs, nil
}

func (p *Postgres) ListActiveByMaster(ctx context.Context, masterID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE master_id = $1 AND is_active ORDER BY created_at`
	if err := p.db.SelectContext(ctx, &subs, query, masterID); err != nil {
		return nil, fmt.Errorf("list active subscriptions by master: %w", err)
	}
	return subs, nil
}

func (p *Postgres) ListExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE is_active AND expiry IS NOT NULL AND expiry <= $1 ORDER BY expiry`
	if err := p.db.SelectContext(ctx, &subs, query, now); err != nil {
		return nil, fmt.Errorf("list expired subscriptions: %w", err)
	}
	return subs, nil
}

func (p *Postgres) GetEntitlement(ctx context.Context, followerID string) (domain.Entitlement, error) {
	return getEntitlement(ctx, p.db, followerID, false)
}

func (p *Postgres) GetMaster(ctx context.Context, masterID string) (domain.MasterProfile, error) {
	var m domain.MasterProfile
	query := `SELECT ` + masterColumns + ` FROM master_profiles WHERE user_id = $1`
	if err := p.db.GetContext(ctx, &m, query, masterID); err != nil {
		return domain.MasterProfile{}, notFound(err, "get master")
	}
	return m, nil
}

func (p *Postgres) ListMasterIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := p.db.SelectContext(ctx, &ids, `SELECT user_id FROM master_profiles ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("list masters: %w", err)
	}
	return ids, nil
}

func (p *Postgres) SetMasterScore(ctx context.Context, masterID string, score domain.MasterScore) error {
	query := `UPDATE master_profiles SET risk_score = $2, max_drawdown_pct = $3, roi = $4, updated_at = NOW()
		WHERE user_id = $1`
	res, err := p.db.ExecContext(ctx, query, masterID, score.RiskScore, score.MaxDrawdownPct, score.ROI)
	if err != nil {
		return fmt.Errorf("update master score: %w", err)
	}
	return requireRow(res, "update master score")
}

func (p *Postgres) ListClosedTrades(ctx context.Context, masterID string) ([]domain.TradeRecord, error) {
	trades := []domain.TradeRecord{}
	query := `SELECT master_id, close_time, net_profit FROM trade_history
		WHERE master_id = $1 ORDER BY close_time, id`
	if err := p.db.SelectContext(ctx, &trades, query, masterID); err != nil {
		return nil, fmt.Errorf("list closed trades: %w", err)
	}
	return trades, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockAccount(ctx context.Context, userID string) (domain.Account, error) {
	var acc domain.Account
	query := `SELECT user_id, balance, updated_at FROM accounts WHERE user_id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &acc, query, userID); err != nil {
		return domain.Account{}, notFound(err, "lock account")
	}
	return acc, nil
}

func (t *pgTx) DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) error {
	query := `UPDATE accounts SET balance = balance - $2, updated_at = NOW() WHERE user_id = $1`
	res, err := t.tx.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("debit account: %w", err)
	}
	return requireRow(res, "debit account")
}

func (t *pgTx) LockMaster(ctx context.Context, masterID string) (domain.MasterProfile, error) {
	var m domain.MasterProfile
	query := `SELECT ` + masterColumns + ` FROM master_profiles WHERE user_id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &m, query, masterID); err != nil {
		return domain.MasterProfile{}, notFound(err, "lock master")
	}
	return m, nil
}

func (t *pgTx) AggregateActive(ctx context.Context, masterID, excludeFollowerID string) (domain.MasterStats, error) {
	var stats domain.MasterStats
	query := `SELECT COUNT(*) AS followers_count, COALESCE(SUM(allocation), 0) AS aum
		FROM subscriptions WHERE master_id = $1 AND is_active AND follower_id <> $2`
	if err := t.tx.GetContext(ctx, &stats, query, masterID, excludeFollowerID); err != nil {
		return domain.MasterStats{}, fmt.Errorf("aggregate active subscriptions: %w", err)
	}
	return stats, nil
}

func (t *pgTx) SetMasterStats(ctx context.Context, masterID string, stats domain.MasterStats) error {
	query := `UPDATE master_profiles SET followers_count = $2, aum = $3, updated_at = NOW() WHERE user_id = $1`
	res, err := t.tx.ExecContext(ctx, query, masterID, stats.FollowersCount, stats.AUM)
	if err != nil {
		return fmt.Errorf("update master stats: %w", err)
	}
	return requireRow(res, "update master stats")
}

func (t *pgTx) GetEntitlement(ctx context.Context, followerID string) (domain.Entitlement, error) {
	return getEntitlement(ctx, t.tx, followerID, true)
}

func (t *pgTx) UpsertEntitlement(ctx context.Context, e domain.Entitlement) error {
	query := `
		INSERT INTO entitlements (
			follower_id, daily_used, daily_activated_at, welcome_trial_used, welcome_activated_at
		) VALUES (
			:follower_id, :daily_used, :daily_activated_at, :welcome_trial_used, :welcome_activated_at
		)
		ON CONFLICT (follower_id) DO UPDATE SET
			daily_used = EXCLUDED.daily_used,
			daily_activated_at = EXCLUDED.daily_activated_at,
			welcome_trial_used = entitlements.welcome_trial_used OR EXCLUDED.welcome_trial_used,
			welcome_activated_at = COALESCE(entitlements.welcome_activated_at, EXCLUDED.welcome_activated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("upsert entitlement: %w", err)
	}
	return nil
}

func (t *pgTx) LockPair(ctx context.Context, followerID, masterID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE follower_id = $1 AND master_id = $2 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &sub, query, followerID, masterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock subscription pair: %w", err)
	}
	return &sub, nil
}

func (t *pgTx) LockSubscription(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	var sub domain.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`
	if err := t.tx.GetContext(ctx, &sub, query, id); err != nil {
		return domain.Subscription{}, notFound(err, "lock subscription")
	}
	return sub, nil
}

func (t *pgTx) CountActiveByFollower(ctx context.Context, followerID, excludeMasterID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM subscriptions WHERE follower_id = $1 AND is_active AND master_id <> $2`
	if err := t.tx.GetContext(ctx, &n, query, followerID, excludeMasterID); err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}
	return n, nil
}

func (t *pgTx) ListActiveByFollower(ctx context.Context, followerID string) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE follower_id = $1 AND is_active ORDER BY created_at`
	if err := t.tx.SelectContext(ctx, &subs, query, followerID); err != nil {
		return nil, fmt.Errorf("list active subscriptions by follower: %w", err)
	}
	return subs, nil
}

func (t *pgTx) InsertSubscription(ctx context.Context, sub domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, follower_id, master_id, allocation, risk_factor, type, is_active,
			execution_lane, auto_renew, trading_window, invert_direction, expiry,
			current_equity, unrealized_pnl, shard, created_at, updated_at
		) VALUES (
			:id, :follower_id, :master_id, :allocation, :risk_factor, :type, :is_active,
			:execution_lane, :auto_renew, :trading_window, :invert_direction, :expiry,
			:current_equity, :unrealized_pnl, :shard, :created_at, :updated_at
		)`
	if _, err := t.tx.NamedExecContext(ctx, query, sub); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicatePair
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateSubscription(ctx context.Context, sub domain.Subscription) error {
	query := `
		UPDATE subscriptions SET
			allocation = :allocation, risk_factor = :risk_factor, type = :type, is_active = :is_active,
			execution_lane = :execution_lane, auto_renew = :auto_renew, trading_window = :trading_window,
			invert_direction = :invert_direction, expiry = :expiry, current_equity = :current_equity,
			unrealized_pnl = :unrealized_pnl, updated_at = :updated_at
		WHERE id = :id`
	res, err := t.tx.NamedExecContext(ctx, query, sub)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return requireRow(res, "update subscription")
}

func (t *pgTx) DeactivateSubscription(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE subscriptions SET is_active = FALSE, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	return requireRow(res, "deactivate subscription")
}

func (t *pgTx) DeactivateByFollower(ctx context.Context, followerID string, at time.Time) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `UPDATE subscriptions SET is_active = FALSE, updated_at = $2
		WHERE follower_id = $1 AND is_active RETURNING ` + subscriptionColumns
	if err := t.tx.SelectContext(ctx, &subs, query, followerID, at); err != nil {
		return nil, fmt.Errorf("deactivate subscriptions by follower: %w", err)
	}
	return subs, nil
}

func (t *pgTx) DeactivateByMaster(ctx context.Context, masterID string, at time.Time) ([]domain.Subscription, error) {
	subs := []domain.Subscription{}
	query := `UPDATE subscriptions SET is_active = FALSE, updated_at = $2
		WHERE master_id = $1 AND is_active RETURNING ` + subscriptionColumns
	if err := t.tx.SelectContext(ctx, &subs, query, masterID, at); err != nil {
		return nil, fmt.Errorf("deactivate subscriptions by master: %w", err)
	}
	return subs, nil
}

func (t *pgTx) AppendLedger(ctx context.Context, entry domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (
			id, user_id, master_id, subscription_id, kind, amount, status, created_at
		) VALUES (
			:id, :user_id, :master_id, :subscription_id, :kind, :amount, :status, :created_at
		)`
	if _, err := t.tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	ident := pq.QuoteIdentifier(name)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+ident); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func getEntitlement(ctx context.Context, q sqlx.QueryerContext, followerID string, lock bool) (domain.Entitlement, error) {
	var e domain.Entitlement
	query := `SELECT follower_id, daily_used, daily_activated_at, welcome_trial_used, welcome_activated_at
		FROM entitlements WHERE follower_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	if err := sqlx.GetContext(ctx, q, &e, query, followerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Entitlement{FollowerID: followerID}, nil
		}
		return domain.Entitlement{}, fmt.Errorf("get entitlement: %w", err)
	}
	return e, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
