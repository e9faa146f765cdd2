package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutForPriority(t *testing.T) {
	assert.Equal(t, 30, TimeoutForPriority(PriorityLow))
	assert.Equal(t, 30, TimeoutForPriority(PriorityNormal))
	assert.Equal(t, 10, TimeoutForPriority(PriorityHigh))
	assert.Equal(t, 5, TimeoutForPriority(PriorityCritical))
}

func TestTradeIsBuy(t *testing.T) {
	assert.True(t, (&Trade{Direction: SignalBuy}).IsBuy())
	assert.False(t, (&Trade{Direction: SignalSell}).IsBuy())
}
