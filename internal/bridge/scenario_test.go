package bridge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradebridge/internal/db"
)

// Full round trip of one automated EURUSD trade: the command is persisted and
// queued, the EA picks it up on a poll, reports the fill, and later reports
// the take-profit close. Entry 1.08500, SL 1.08404, TP 1.08660.
func TestAutotradeRoundTripTakeProfit(t *testing.T) {
	ctx := context.Background()
	disp := newDispatcherFixture()
	sigID := uuid.New()

	cmd := &db.Command{
		AccountID:      7,
		Type:           db.CommandOpenTrade,
		Priority:       db.PriorityNormal,
		LinkedSignalID: &sigID,
		Payload: map[string]interface{}{
			"symbol":    "EURUSD",
			"direction": "BUY",
			"volume":    0.12,
			"sl":        1.08404,
			"tp":        1.08660,
			"comment":   "Auto-trade: BUY H1 @ 72% conf",
		},
	}
	stored, err := disp.d.Send(ctx, cmd)
	require.NoError(t, err)

	delivered, err := disp.d.Drain(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	settled, err := disp.d.HandleResponse(ctx, stored.CommandID, true, map[string]interface{}{
		"ticket":     float64(1),
		"open_price": 1.08500,
		"volume":     0.12,
		"bid":        1.08494,
		"ask":        1.08500,
	}, "")
	require.NoError(t, err)
	assert.Equal(t, db.CommandCompleted, settled.Status)

	// Exactly one trade for (command_id, ticket).
	require.Len(t, disp.store.trades, 1)
	opened := disp.store.trades[0]
	require.NotNil(t, opened.CommandID)
	assert.Equal(t, stored.CommandID, *opened.CommandID)
	assert.Equal(t, int64(1), opened.Ticket)
	assert.Equal(t, db.SourceAutotrade, opened.Source)
	assert.Equal(t, 1.08404, opened.SL)
	assert.Equal(t, 1.08660, opened.TP)

	// The EA later reports the close; hand the open trade to the trade port.
	tf := newTradeFixture()
	opened.InitialSL = opened.SL
	opened.InitialTP = opened.TP
	opened.OpenTime = time.Now().Add(-45 * time.Minute)
	tf.store.byTicket[opened.Ticket] = opened

	w, _ := doJSON(t, tf.h.Update, http.MethodPost, gin.H{
		"account_id":   7,
		"ticket":       1,
		"closed":       true,
		"close_price":  1.08660,
		"close_reason": "TP_HIT",
		"profit":       19.2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, tf.store.closed, 1)
	closed := tf.store.closed[0]
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, db.CloseTPHit, *closed.CloseReason)
	require.NotNil(t, closed.PipsCaptured)
	assert.InDelta(t, 16.0, *closed.PipsCaptured, 0.01)
	require.NotNil(t, closed.RiskRewardRealized)
	assert.InDelta(t, 1.67, *closed.RiskRewardRealized, 0.01)
	assert.Len(t, tf.hook.trades, 1)
}
