package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSymbolBanned(t *testing.T) {
	r := UserRules{BannedSymbols: map[string]bool{"btcusdt": true}}
	assert.True(t, r.IsSymbolBanned("btcusdt"))
	assert.False(t, r.IsSymbolBanned("ethusdt"))
	// Case-sensitive: callers are expected to lowercase before calling,
	// per the canonical-casing decision (spec §9 design notes).
	assert.False(t, r.IsSymbolBanned("BTCUSDT"))
}

func TestIsSymbolBanned_NilMap(t *testing.T) {
	var r UserRules
	assert.False(t, r.IsSymbolBanned("btcusdt"))
}
