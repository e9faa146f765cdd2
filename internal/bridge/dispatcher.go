package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradebridge/internal/bus"
	"github.com/ajitpratap0/tradebridge/internal/cache"
	"github.com/ajitpratap0/tradebridge/internal/db"
	"github.com/ajitpratap0/tradebridge/internal/errs"
	"github.com/ajitpratap0/tradebridge/internal/metrics"
)

const monitorInterval = 5 * time.Second

// DispatcherStore is the command persistence the dispatcher needs
type DispatcherStore interface {
	InsertCommand(ctx context.Context, cmd *db.Command) (*db.Command, error)
	GetCommand(ctx context.Context, commandID uuid.UUID) (*db.Command, error)
	GetCommandsByRowIDs(ctx context.Context, ids []int64) ([]*db.Command, error)
	MarkCommandSent(ctx context.Context, rowID int64) error
	CompleteCommand(ctx context.Context, commandID uuid.UUID, status db.CommandStatus, response map[string]interface{}, errorMessage string) (*db.Command, error)
	RequeueCommand(ctx context.Context, rowID int64) (*db.Command, error)
	MarkCommandTimedOut(ctx context.Context, rowID int64) (*db.Command, error)
	ExpiredExecutingCommands(ctx context.Context) ([]*db.Command, error)
	PendingCommands(ctx context.Context) ([]*db.Command, error)
	CountCommands(ctx context.Context) (map[string]int64, error)
	GetTradeByCommandID(ctx context.Context, commandID uuid.UUID) (*db.Trade, error)
	InsertTrade(ctx context.Context, t *db.Trade) (*db.Trade, error)
}

// Queue is the Redis delivery queue behind the dispatcher
type Queue interface {
	EnqueueCommand(ctx context.Context, accountID, rowID int64, priority int) error
	PopCommands(ctx context.Context, accountID int64, n int) ([]int64, error)
	RebuildQueue(ctx context.Context, accountID int64, entries []cache.QueueEntry) error
}

// FailureSink tracks the run of consecutive trade-open failures per account;
// enough of them trips the account circuit breaker, and a completed open
// ends the run. The sink receives every terminal settle and applies its own
// command-type policy.
type FailureSink interface {
	RecordCommandFailure(ctx context.Context, accountID int64, cmdType db.CommandType) error
	RecordCommandSuccess(ctx context.Context, accountID int64, cmdType db.CommandType) error
}

// PositionCache is the per-symbol open-trade cache the position monitor
// keeps; the dispatcher pokes it when a fill changes the open set.
type PositionCache interface {
	Invalidate(symbol string)
}

// Dispatcher moves commands from the server to the EA terminals: persist,
// enqueue, drain on poll, settle the response, retry or bury on timeout.
type Dispatcher struct {
	store     DispatcherStore
	queue     Queue
	failures  FailureSink
	conns     *Registry
	pub       Publisher
	positions PositionCache
	log       zerolog.Logger
}

func NewDispatcher(store DispatcherStore, queue Queue, failures FailureSink, conns *Registry, pub Publisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		queue:    queue,
		failures: failures,
		conns:    conns,
		pub:      pub,
		log:      logger,
	}
}

// SetPositionCache wires the monitor's open-trade cache so fills invalidate
// it immediately. Set after construction: the monitor also sends protective
// commands through the dispatcher.
func (d *Dispatcher) SetPositionCache(p PositionCache) {
	d.positions = p
}

// Send persists a command and makes it deliverable. The row is written
// first: if the enqueue fails the PENDING row survives and Recover puts it
// back on the queue.
func (d *Dispatcher) Send(ctx context.Context, cmd *db.Command) (*db.Command, error) {
	stored, err := d.store.InsertCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if err := d.queue.EnqueueCommand(ctx, stored.AccountID, stored.ID, stored.Priority); err != nil {
		d.log.Error().Err(err).
			Str("command_id", stored.CommandID.String()).
			Msg("Command persisted but not enqueued, recovery will requeue it")
		return stored, fmt.Errorf("failed to enqueue command %s: %w", stored.CommandID, err)
	}

	metrics.RecordCommandEnqueued(string(stored.Type), strconv.Itoa(stored.Priority))
	return stored, nil
}

// Drain pops up to n commands for an account in delivery order and marks
// them EXECUTING. Called from the heartbeat and get_commands handlers.
func (d *Dispatcher) Drain(ctx context.Context, accountID int64, n int) ([]*db.Command, error) {
	ids, err := d.queue.PopCommands(ctx, accountID, n)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	commands, err := d.store.GetCommandsByRowIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	delivered := make([]*db.Command, 0, len(commands))
	for _, cmd := range commands {
		if cmd.Status != db.CommandPending {
			// Settled or timed out between pop and load; do not redeliver.
			continue
		}
		if err := d.store.MarkCommandSent(ctx, cmd.ID); err != nil {
			d.log.Error().Err(err).Int64("row_id", cmd.ID).Msg("Failed to mark command sent")
			continue
		}
		delivered = append(delivered, cmd)
	}
	return delivered, nil
}

// HandleResponse settles one EA response. Completion is a CAS on the row
// status, so a duplicate or late response is a no-op. A failed response is
// retried when the error text looks transient and retries remain; otherwise
// the command is buried and the failure counts toward the account breaker.
func (d *Dispatcher) HandleResponse(ctx context.Context, commandID uuid.UUID, success bool, response map[string]interface{}, errorMessage string) (*db.Command, error) {
	cmd, err := d.store.GetCommand(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, errs.Ef(errs.KindNotFound, "unknown command %s", commandID)
	}
	if cmd.Status != db.CommandPending && cmd.Status != db.CommandExecuting {
		d.log.Debug().Str("command_id", commandID.String()).
			Str("status", string(cmd.Status)).Msg("Ignoring duplicate command response")
		return cmd, nil
	}

	if success {
		return d.settleCompleted(ctx, cmd, response)
	}
	return d.settleFailed(ctx, cmd, errorMessage)
}

func (d *Dispatcher) settleCompleted(ctx context.Context, cmd *db.Command, response map[string]interface{}) (*db.Command, error) {
	settled, err := d.store.CompleteCommand(ctx, cmd.CommandID, db.CommandCompleted, response, "")
	if err != nil {
		return nil, err
	}
	if settled == nil {
		return cmd, nil // lost the CAS to the timeout monitor
	}

	metrics.RecordCommandCompleted(string(settled.Type), string(db.CommandCompleted), latencyMS(settled))
	d.announceCommand(settled, "COMPLETED")

	if d.failures != nil {
		if err := d.failures.RecordCommandSuccess(ctx, settled.AccountID, settled.Type); err != nil {
			d.log.Error().Err(err).Int64("account_id", settled.AccountID).
				Msg("Failed to reset command failure run")
		}
	}

	if settled.Type == db.CommandOpenTrade {
		if err := d.recordOpenedTrade(ctx, settled); err != nil {
			d.log.Error().Err(err).
				Str("command_id", settled.CommandID.String()).
				Msg("Completed OPEN_TRADE but failed to record the trade, sync will pick it up")
		}
	}
	return settled, nil
}

func (d *Dispatcher) settleFailed(ctx context.Context, cmd *db.Command, errorMessage string) (*db.Command, error) {
	if errs.RetriableText(errorMessage) && cmd.RetryCount < cmd.MaxRetries {
		requeued, err := d.store.RequeueCommand(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		if requeued == nil {
			return cmd, nil // already settled elsewhere
		}
		if err := d.queue.EnqueueCommand(ctx, requeued.AccountID, requeued.ID, requeued.Priority); err != nil {
			return requeued, err
		}
		metrics.RecordCommandRetry()
		d.log.Warn().
			Str("command_id", cmd.CommandID.String()).
			Str("error", errorMessage).
			Int("retry", requeued.RetryCount).
			Msg("Command failed transiently, requeued")
		return requeued, nil
	}

	settled, err := d.store.CompleteCommand(ctx, cmd.CommandID, db.CommandFailed, nil, errorMessage)
	if err != nil {
		return nil, err
	}
	if settled == nil {
		return cmd, nil
	}

	metrics.RecordCommandCompleted(string(settled.Type), string(db.CommandFailed), latencyMS(settled))
	metrics.RecordCommandError(errorMessage)
	d.announceCommand(settled, "FAILED")
	d.log.Error().
		Str("command_id", settled.CommandID.String()).
		Str("type", string(settled.Type)).
		Str("error", errorMessage).
		Msg("Command failed permanently")

	if d.failures != nil {
		if err := d.failures.RecordCommandFailure(ctx, settled.AccountID, settled.Type); err != nil {
			d.log.Error().Err(err).Int64("account_id", settled.AccountID).
				Msg("Failed to record command failure against breaker")
		}
	}
	return settled, nil
}

// recordOpenedTrade creates the trade row for a filled OPEN_TRADE command.
// Reconciliation also creates missing trades, so an existing row is fine.
func (d *Dispatcher) recordOpenedTrade(ctx context.Context, cmd *db.Command) error {
	existing, err := d.store.GetTradeByCommandID(ctx, cmd.CommandID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	ticket := asInt64(cmd.Response["ticket"])
	if ticket == 0 {
		return fmt.Errorf("OPEN_TRADE response carries no ticket")
	}

	source := db.SourceEACommand
	if cmd.LinkedSignalID != nil {
		source = db.SourceAutotrade
	}
	bid := asFloat(cmd.Response["bid"])
	ask := asFloat(cmd.Response["ask"])

	trade := &db.Trade{
		Ticket:      ticket,
		AccountID:   cmd.AccountID,
		Symbol:      asString(cmd.Payload["symbol"]),
		Direction:   db.SignalType(asString(cmd.Payload["direction"])),
		Volume:      asFloat(cmd.Response["volume"]),
		OpenPrice:   asFloat(cmd.Response["open_price"]),
		OpenTime:    time.Now().UTC(),
		SL:          asFloat(cmd.Payload["sl"]),
		TP:          asFloat(cmd.Payload["tp"]),
		InitialSL:   asFloat(cmd.Payload["sl"]),
		InitialTP:   asFloat(cmd.Payload["tp"]),
		Status:      db.TradeOpen,
		Source:      source,
		CommandID:   &cmd.CommandID,
		SignalID:    cmd.LinkedSignalID,
		EntryReason: asString(cmd.Payload["comment"]),
		EntryBid:    bid,
		EntryAsk:    ask,
		EntrySpread: ask - bid,
	}
	if trade.Volume == 0 {
		trade.Volume = asFloat(cmd.Payload["volume"])
	}

	stored, err := d.store.InsertTrade(ctx, trade)
	if err != nil {
		return err
	}

	if d.positions != nil {
		d.positions.Invalidate(stored.Symbol)
	}
	if d.pub != nil {
		d.pub.Publish(bus.SubjectTradeOpened, &bus.Event{
			AccountID: stored.AccountID,
			Symbol:    stored.Symbol,
			Payload: map[string]interface{}{
				"ticket":     stored.Ticket,
				"direction":  string(stored.Direction),
				"volume":     stored.Volume,
				"open_price": stored.OpenPrice,
				"source":     string(stored.Source),
			},
		})
	}
	d.log.Info().
		Int64("ticket", stored.Ticket).
		Str("symbol", stored.Symbol).
		Str("direction", string(stored.Direction)).
		Float64("volume", stored.Volume).
		Msg("Trade opened")
	return nil
}

// Recover rebuilds every account's Redis queue from the PENDING rows.
// Called once at startup, before the listeners accept polls.
func (d *Dispatcher) Recover(ctx context.Context) error {
	pending, err := d.store.PendingCommands(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending commands: %w", err)
	}

	byAccount := make(map[int64][]cache.QueueEntry)
	for _, cmd := range pending {
		byAccount[cmd.AccountID] = append(byAccount[cmd.AccountID], cache.QueueEntry{
			RowID:    cmd.ID,
			Priority: cmd.Priority,
		})
	}

	for accountID, entries := range byAccount {
		if err := d.queue.RebuildQueue(ctx, accountID, entries); err != nil {
			return err
		}
	}

	d.log.Info().
		Int("pending", len(pending)).
		Int("accounts", len(byAccount)).
		Msg("Command queues recovered")
	return nil
}

// Run is the timeout monitor: commands stuck in EXECUTING past their
// deadline go back on the queue while retries remain, then are buried as
// TIMEOUT.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.sweepExpired(ctx); err != nil {
				d.log.Error().Err(err).Msg("Command timeout sweep failed")
			}
		}
	}
}

func (d *Dispatcher) sweepExpired(ctx context.Context) error {
	expired, err := d.store.ExpiredExecutingCommands(ctx)
	if err != nil {
		return err
	}

	for _, cmd := range expired {
		if d.conns != nil {
			d.conns.Failure(cmd.AccountID)
		}
		if cmd.RetryCount < cmd.MaxRetries {
			requeued, err := d.store.RequeueCommand(ctx, cmd.ID)
			if err != nil {
				return err
			}
			if requeued == nil {
				continue
			}
			if err := d.queue.EnqueueCommand(ctx, requeued.AccountID, requeued.ID, requeued.Priority); err != nil {
				return err
			}
			metrics.RecordCommandRetry()
			d.log.Warn().
				Str("command_id", cmd.CommandID.String()).
				Int("retry", requeued.RetryCount).
				Msg("Command timed out, requeued")
			continue
		}

		buried, err := d.store.MarkCommandTimedOut(ctx, cmd.ID)
		if err != nil {
			return err
		}
		if buried == nil {
			continue
		}
		metrics.RecordCommandCompleted(string(buried.Type), string(db.CommandTimeout), latencyMS(buried))
		metrics.RecordCommandError("command timeout")
		d.announceCommand(buried, "TIMEOUT")
		d.log.Error().
			Str("command_id", buried.CommandID.String()).
			Str("type", string(buried.Type)).
			Msg("Command timed out after max retries")

		if d.failures != nil {
			if err := d.failures.RecordCommandFailure(ctx, buried.AccountID, buried.Type); err != nil {
				d.log.Error().Err(err).Int64("account_id", buried.AccountID).
					Msg("Failed to record command timeout against breaker")
			}
		}
	}

	if counts, err := d.store.CountCommands(ctx); err == nil {
		metrics.UpdateCommandQueueDepth(int(counts[string(db.CommandPending)]))
	}
	return nil
}

func (d *Dispatcher) announceCommand(cmd *db.Command, outcome string) {
	if d.pub == nil {
		return
	}
	d.pub.Publish(bus.SubjectCommandCompleted, &bus.Event{
		AccountID: cmd.AccountID,
		Payload: map[string]interface{}{
			"command_id": cmd.CommandID.String(),
			"type":       string(cmd.Type),
			"status":     outcome,
		},
	})
}

func latencyMS(cmd *db.Command) float64 {
	if cmd.SentAt == nil || cmd.CompletedAt == nil {
		return 0
	}
	return float64(cmd.CompletedAt.Sub(*cmd.SentAt).Milliseconds())
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
