package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "hierarchy:binance:BTC-USD", hierarchyKey("binance", "BTC-USD"))
	assert.Equal(t, "hierarchy:id:abc", hierarchyIDKey("abc"))
	assert.Equal(t, "lock:export:binance", lockKey("export:binance"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:nodes:*"))
	assert.True(t, hasPattern("ch:nodes:bin?nce"))
	assert.False(t, hasPattern("ch:nodes:binance"))
}
