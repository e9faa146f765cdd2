package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const commandColumns = `
	id, command_id, account_id, type, payload, priority, status, retry_count,
	max_retries, timeout_seconds, linked_signal_id, response, error_message,
	created_at, sent_at, completed_at
`

func scanCommand(row pgx.Row) (*Command, error) {
	var cmd Command
	err := row.Scan(
		&cmd.ID, &cmd.CommandID, &cmd.AccountID, &cmd.Type, &cmd.Payload,
		&cmd.Priority, &cmd.Status, &cmd.RetryCount, &cmd.MaxRetries,
		&cmd.TimeoutSeconds, &cmd.LinkedSignalID, &cmd.Response,
		&cmd.ErrorMessage, &cmd.CreatedAt, &cmd.SentAt, &cmd.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// InsertCommand persists a new PENDING command row. The caller publishes the
// queue entry only after this succeeds, so crash recovery can rebuild the
// queue from PENDING rows.
func (s *Store) InsertCommand(ctx context.Context, cmd *Command) (*Command, error) {
	if cmd.CommandID == uuid.Nil {
		cmd.CommandID = uuid.New()
	}
	if cmd.Priority == 0 {
		cmd.Priority = PriorityNormal
	}
	if cmd.MaxRetries == 0 {
		cmd.MaxRetries = 3
	}
	if cmd.TimeoutSeconds == 0 {
		cmd.TimeoutSeconds = TimeoutForPriority(cmd.Priority)
	}

	row := s.q.QueryRow(ctx, `
		INSERT INTO commands (
			command_id, account_id, type, payload, priority, status,
			max_retries, timeout_seconds, linked_signal_id
		) VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, $7, $8)
		RETURNING`+commandColumns,
		cmd.CommandID, cmd.AccountID, cmd.Type, cmd.Payload, cmd.Priority,
		cmd.MaxRetries, cmd.TimeoutSeconds, cmd.LinkedSignalID)

	stored, err := scanCommand(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert command %s: %w", cmd.Type, err)
	}

	log.Debug().
		Str("command_id", stored.CommandID.String()).
		Int64("account_id", stored.AccountID).
		Str("type", string(stored.Type)).
		Int("priority", stored.Priority).
		Msg("Command persisted")

	return stored, nil
}

// GetCommand loads one command by external id
func (s *Store) GetCommand(ctx context.Context, commandID uuid.UUID) (*Command, error) {
	row := s.q.QueryRow(ctx, `SELECT`+commandColumns+`FROM commands WHERE command_id = $1`, commandID)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get command %s: %w", commandID, err)
	}
	return cmd, nil
}

// GetCommandsByRowIDs loads commands by internal row id, preserving the
// requested order. Used by the dispatcher after a queue pop.
func (s *Store) GetCommandsByRowIDs(ctx context.Context, ids []int64) ([]*Command, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.q.Query(ctx, `SELECT`+commandColumns+`FROM commands WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load commands: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*Command, len(ids))
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		byID[cmd.ID] = cmd
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	ordered := make([]*Command, 0, len(ids))
	for _, id := range ids {
		if cmd, ok := byID[id]; ok {
			ordered = append(ordered, cmd)
		}
	}
	return ordered, nil
}

// MarkCommandSent transitions PENDING -> EXECUTING and stamps sent_at.
// Redelivery of a retried command stamps sent_at again.
func (s *Store) MarkCommandSent(ctx context.Context, rowID int64) error {
	_, err := s.q.Exec(ctx, `
		UPDATE commands
		SET status = 'EXECUTING', sent_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		rowID)
	if err != nil {
		return fmt.Errorf("failed to mark command %d sent: %w", rowID, err)
	}
	return nil
}

// CompleteCommand finishes a command at most once: the status guard makes a
// late duplicate response a no-op. Returns the completed row, or nil when
// the command was already terminal.
func (s *Store) CompleteCommand(ctx context.Context, commandID uuid.UUID, status CommandStatus, response map[string]interface{}, errorMessage string) (*Command, error) {
	var errPtr *string
	if errorMessage != "" {
		errPtr = &errorMessage
	}

	row := s.q.QueryRow(ctx, `
		UPDATE commands
		SET status = $2, response = $3, error_message = $4, completed_at = NOW()
		WHERE command_id = $1 AND status IN ('PENDING', 'EXECUTING')
		RETURNING`+commandColumns,
		commandID, status, response, errPtr)

	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete command %s: %w", commandID, err)
	}
	return cmd, nil
}

// RequeueCommand returns a timed-out command to PENDING with retry_count+1
func (s *Store) RequeueCommand(ctx context.Context, rowID int64) (*Command, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE commands
		SET status = 'PENDING', retry_count = retry_count + 1, sent_at = NULL
		WHERE id = $1 AND status = 'EXECUTING'
		RETURNING`+commandColumns,
		rowID)

	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue command %d: %w", rowID, err)
	}
	return cmd, nil
}

// MarkCommandTimedOut marks a command TIMEOUT after retries are exhausted
func (s *Store) MarkCommandTimedOut(ctx context.Context, rowID int64) (*Command, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE commands
		SET status = 'TIMEOUT', completed_at = NOW(), error_message = 'command timeout'
		WHERE id = $1 AND status = 'EXECUTING'
		RETURNING`+commandColumns,
		rowID)

	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark command %d timed out: %w", rowID, err)
	}
	return cmd, nil
}

// ExpiredExecutingCommands returns commands whose per-command deadline has
// passed without a response.
func (s *Store) ExpiredExecutingCommands(ctx context.Context) ([]*Command, error) {
	rows, err := s.q.Query(ctx, `
		SELECT`+commandColumns+`
		FROM commands
		WHERE status = 'EXECUTING'
		  AND sent_at IS NOT NULL
		  AND sent_at + make_interval(secs => timeout_seconds) < NOW()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired commands: %w", err)
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, cmd)
	}
	return commands, rows.Err()
}

// PendingCommands returns all PENDING rows in delivery order, used to
// rebuild the queue at startup.
func (s *Store) PendingCommands(ctx context.Context) ([]*Command, error) {
	rows, err := s.q.Query(ctx, `
		SELECT`+commandColumns+`
		FROM commands
		WHERE status = 'PENDING'
		ORDER BY account_id, priority DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending commands: %w", err)
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, cmd)
	}
	return commands, rows.Err()
}

// FindOpenCommandByTicket locates a recently completed OPEN_TRADE command
// whose response carried the given ticket. Reconciliation uses this to link
// EA-reported positions back to the signal that caused them.
func (s *Store) FindOpenCommandByTicket(ctx context.Context, accountID, ticket int64) (*Command, error) {
	row := s.q.QueryRow(ctx, `
		SELECT`+commandColumns+`
		FROM commands
		WHERE account_id = $1
		  AND type = 'OPEN_TRADE'
		  AND status = 'COMPLETED'
		  AND (response->>'ticket')::bigint = $2
		  AND completed_at > NOW() - INTERVAL '1 hour'
		ORDER BY completed_at DESC
		LIMIT 1`,
		accountID, ticket)

	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open command for ticket %d: %w", ticket, err)
	}
	return cmd, nil
}

// FindWorkerCloseCommand looks for a server-issued CLOSE_TRADE for a ticket,
// used to override a generic MANUAL close reason with the worker's reason.
func (s *Store) FindWorkerCloseCommand(ctx context.Context, accountID, ticket int64) (*Command, error) {
	row := s.q.QueryRow(ctx, `
		SELECT`+commandColumns+`
		FROM commands
		WHERE account_id = $1
		  AND type = 'CLOSE_TRADE'
		  AND (payload->>'ticket')::bigint = $2
		  AND created_at > NOW() - INTERVAL '1 hour'
		ORDER BY created_at DESC
		LIMIT 1`,
		accountID, ticket)

	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find close command for ticket %d: %w", ticket, err)
	}
	return cmd, nil
}

// CountCommands returns the number of commands per status
func (s *Store) CountCommands(ctx context.Context) (map[string]int64, error) {
	rows, err := s.q.Query(ctx, `SELECT status, COUNT(*) FROM commands GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count commands: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan command count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
