package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const accountColumns = `
	id, broker_account_number, broker_name, currency, balance, equity, margin,
	free_margin, initial_balance, profit_today, profit_date,
	autotrading_enabled, circuit_breaker_tripped, breaker_reason,
	failed_command_count, created_at, updated_at
`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.BrokerAccountNumber, &a.BrokerName, &a.Currency, &a.Balance,
		&a.Equity, &a.Margin, &a.FreeMargin, &a.InitialBalance, &a.ProfitToday,
		&a.ProfitDate, &a.AutotradingEnabled, &a.BreakerTripped, &a.BreakerReason,
		&a.FailedCommandCount, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount loads an account by internal id
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.q.QueryRow(ctx, `SELECT`+accountColumns+`FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return account, nil
}

// GetAccountByNumber loads an account by broker identity
func (s *Store) GetAccountByNumber(ctx context.Context, broker string, number int64) (*Account, error) {
	row := s.q.QueryRow(ctx,
		`SELECT`+accountColumns+`FROM accounts WHERE broker_name = $1 AND broker_account_number = $2`,
		broker, number)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s/%d: %w", broker, number, err)
	}
	return account, nil
}

// CreateAccount inserts a new account on first connect. The starting balance
// is captured as initial_balance for total-drawdown tracking.
func (s *Store) CreateAccount(ctx context.Context, broker string, number int64, currency string, balance float64) (*Account, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO accounts (
			broker_account_number, broker_name, currency, balance, equity,
			initial_balance
		) VALUES ($1, $2, $3, $4, $4, $4)
		RETURNING`+accountColumns,
		number, broker, currency, balance)

	account, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create account %s/%d: %w", broker, number, err)
	}

	log.Info().
		Int64("account_id", account.ID).
		Str("broker", broker).
		Int64("account_number", number).
		Float64("initial_balance", balance).
		Msg("Account created")

	return account, nil
}

// UpdateAccountState applies a heartbeat's balance snapshot. The profit_date
// column rolls profit_today over at midnight: when the stored date is older
// than today, profit_today resets before the new value accrues.
func (s *Store) UpdateAccountState(ctx context.Context, id int64, balance, equity, margin, freeMargin float64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE accounts
		SET balance = $2,
		    equity = $3,
		    margin = $4,
		    free_margin = $5,
		    profit_today = CASE WHEN profit_date < CURRENT_DATE THEN 0 ELSE profit_today END,
		    profit_date = CURRENT_DATE,
		    updated_at = NOW()
		WHERE id = $1`,
		id, balance, equity, margin, freeMargin)
	if err != nil {
		return fmt.Errorf("failed to update account %d state: %w", id, err)
	}
	return nil
}

// SetProfitToday stores the recomputed daily P&L for an account
func (s *Store) SetProfitToday(ctx context.Context, id int64, profit float64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE accounts
		SET profit_today = $2, profit_date = CURRENT_DATE, updated_at = NOW()
		WHERE id = $1`,
		id, profit)
	if err != nil {
		return fmt.Errorf("failed to set profit_today for account %d: %w", id, err)
	}
	return nil
}

// UpdateRiskState persists the per-account risk cell so restarts rebuild it
func (s *Store) UpdateRiskState(ctx context.Context, id int64, enabled, tripped bool, reason string, failedCount int) error {
	_, err := s.q.Exec(ctx, `
		UPDATE accounts
		SET autotrading_enabled = $2,
		    circuit_breaker_tripped = $3,
		    breaker_reason = $4,
		    failed_command_count = $5,
		    updated_at = NOW()
		WHERE id = $1`,
		id, enabled, tripped, reason, failedCount)
	if err != nil {
		return fmt.Errorf("failed to update risk state for account %d: %w", id, err)
	}
	return nil
}

// ListAccounts returns all known accounts
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.q.Query(ctx, `SELECT`+accountColumns+`FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// DailyClosedProfit sums realized P&L for an account's trades closed today
// (UTC). Used by the drawdown worker to recompute profit_today.
func (s *Store) DailyClosedProfit(ctx context.Context, id int64) (float64, error) {
	var profit float64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(profit + commission + swap), 0)
		FROM trades
		WHERE account_id = $1
		  AND status = 'closed'
		  AND close_time >= date_trunc('day', NOW())`,
		id).Scan(&profit)
	if err != nil {
		return 0, fmt.Errorf("failed to compute daily profit for account %d: %w", id, err)
	}
	return profit, nil
}

// ProfitDateIsStale reports whether an account's profit_today belongs to a
// previous day.
func (a *Account) ProfitDateIsStale(now time.Time) bool {
	y1, m1, d1 := a.ProfitDate.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}
