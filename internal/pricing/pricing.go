// Package pricing converts internal smallest-unit amounts into display
// strings. All wagering math stays in integer chips; this package only
// formats.
package pricing

import (
	"fmt"
	"strconv"
	"strings"
)

// Converter formats chip amounts for display. Rate is expressed in
// hundredths of a display unit per chip (100 means one chip shows as 1.00).
type Converter struct {
	rate   int64
	symbol string
}

// New creates a Converter. A rate of 0 falls back to 100 (1:1).
func New(rate int64, symbol string) *Converter {
	if rate <= 0 {
		rate = 100
	}
	if symbol == "" {
		symbol = "💰"
	}
	return &Converter{rate: rate, symbol: symbol}
}

// Display renders an amount of chips with the currency symbol.
func (c *Converter) Display(chips int64) string {
	return c.symbol + " " + c.Format(chips)
}

// Format renders an amount of chips as a decimal display value, trimming
// trailing zeros so whole amounts read as integers.
func (c *Converter) Format(chips int64) string {
	scaled := chips * c.rate
	whole := scaled / 100
	frac := scaled % 100
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	s := fmt.Sprintf("%d.%02d", whole, frac)
	return strings.TrimRight(s, "0")
}

// Multiplier renders a scaled multiplier (hundredths) as "1.50x".
func Multiplier(hundredths int64) string {
	whole := hundredths / 100
	frac := hundredths % 100
	if frac < 0 {
		frac = -frac
	}
	if frac == 0 {
		return fmt.Sprintf("%dx", whole)
	}
	if frac%10 == 0 {
		return fmt.Sprintf("%d.%dx", whole, frac/10)
	}
	return fmt.Sprintf("%d.%02dx", whole, frac)
}
