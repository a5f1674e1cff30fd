package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatWholeAmounts(t *testing.T) {
	c := New(100, "💰")

	assert.Equal(t, "1000", c.Format(1000))
	assert.Equal(t, "0", c.Format(0))
	assert.Equal(t, "-50", c.Format(-50))
}

func TestFormatScaledRate(t *testing.T) {
	// 1 chip shows as 0.25 display units
	c := New(25, "$")

	assert.Equal(t, "250", c.Format(1000))
	assert.Equal(t, "0.25", c.Format(1))
	assert.Equal(t, "0.5", c.Format(2))
}

func TestDisplayIncludesSymbol(t *testing.T) {
	c := New(100, "$")
	assert.Equal(t, "$ 500", c.Display(500))
}

func TestZeroRateFallsBack(t *testing.T) {
	c := New(0, "")
	assert.Equal(t, "💰 7", c.Display(7))
}

func TestMultiplier(t *testing.T) {
	assert.Equal(t, "1x", Multiplier(100))
	assert.Equal(t, "1.5x", Multiplier(150))
	assert.Equal(t, "3.37x", Multiplier(337))
	assert.Equal(t, "0.2x", Multiplier(20))
	assert.Equal(t, "0x", Multiplier(0))
}
