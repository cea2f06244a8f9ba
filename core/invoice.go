package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	msatPerBTC = decimal.New(1, 11)

	amountMultipliers = map[byte]decimal.Decimal{
		'm': decimal.New(1, -3),
		'u': decimal.New(1, -6),
		'n': decimal.New(1, -9),
		'p': decimal.New(1, -12),
	}
)

// InvoiceAmount is the amount encoded in the human-readable part of a BOLT-11
// payment request.
type InvoiceAmount struct {
	Network   string
	MilliSats decimal.Decimal
	HasAmount bool
}

// Sats returns the amount rounded up to whole satoshis.
func (a InvoiceAmount) Sats() int64 {
	return a.MilliSats.Div(decimal.NewFromInt(1000)).Ceil().IntPart()
}

// ParseInvoiceAmount decodes the amount of a BOLT-11 invoice without
// validating its signature or data part.
func ParseInvoiceAmount(invoice string) (InvoiceAmount, error) {
	s := strings.ToLower(strings.TrimSpace(invoice))
	s = strings.TrimPrefix(s, "lightning:")

	sep := strings.LastIndexByte(s, '1')
	if sep < 0 || !strings.HasPrefix(s, "ln") {
		return InvoiceAmount{}, fmt.Errorf("%w: not a BOLT-11 payment request", ErrInvalidInvoice)
	}
	hrp := s[2:sep]

	i := 0
	for i < len(hrp) && hrp[i] >= 'a' && hrp[i] <= 'z' {
		i++
	}
	amount := InvoiceAmount{Network: hrp[:i]}
	if amount.Network == "" {
		return InvoiceAmount{}, fmt.Errorf("%w: missing network prefix", ErrInvalidInvoice)
	}

	raw := hrp[i:]
	if raw == "" {
		return amount, nil
	}

	multiplier := decimal.NewFromInt(1)
	if m, ok := amountMultipliers[raw[len(raw)-1]]; ok {
		multiplier = m
		if raw[len(raw)-1] == 'p' && !strings.HasSuffix(raw[:len(raw)-1], "0") {
			return InvoiceAmount{}, fmt.Errorf("%w: pico amount below one millisatoshi", ErrInvalidInvoice)
		}
		raw = raw[:len(raw)-1]
	}
	if raw == "" || strings.Trim(raw, "0123456789") != "" {
		return InvoiceAmount{}, fmt.Errorf("%w: bad amount %q", ErrInvalidInvoice, hrp[i:])
	}

	n, err := decimal.NewFromString(raw)
	if err != nil {
		return InvoiceAmount{}, fmt.Errorf("%w: %v", ErrInvalidInvoice, err)
	}
	amount.MilliSats = n.Mul(multiplier).Mul(msatPerBTC)
	amount.HasAmount = true
	return amount, nil
}
