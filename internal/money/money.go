package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Money is an exact decimal amount in a currency. Arithmetic never leaves
// decimal space. String pads to the currency precision and never drops
// digits.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

func New(amount decimal.Decimal, currency Currency) Money {
	return Money{amount: amount, currency: currency.Normalize()}
}

func Zero(currency Currency) Money {
	return New(decimal.Zero, currency)
}

func FromInt(units int64, currency Currency) Money {
	return New(decimal.NewFromInt(units), currency)
}

func Parse(currency Currency, raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return New(amount, currency), nil
}

func MustParse(currency Currency, raw string) Money {
	m, err := Parse(currency, raw)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() Currency { return m.currency }

func (m Money) Add(other Money) Money {
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}
}

func (m Money) Sub(other Money) Money {
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}
}

func (m Money) Mul(qty int64) Money {
	return Money{amount: m.amount.Mul(decimal.NewFromInt(qty)), currency: m.currency}
}

func (m Money) Min(other Money) Money {
	if other.amount.LessThan(m.amount) {
		return Money{amount: other.amount, currency: m.currency}
	}
	return m
}

func (m Money) Cmp(other Money) int { return m.amount.Cmp(other.amount) }

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) GreaterThan(other Money) bool { return m.amount.GreaterThan(other.amount) }

func (m Money) LessThan(other Money) bool { return m.amount.LessThan(other.amount) }

func (m Money) IsNegative() bool { return m.amount.IsNegative() }

func (m Money) IsZero() bool { return m.amount.IsZero() }

func (m Money) SameCurrency(other Money) bool { return m.currency == other.currency }

// Sanitize truncates fractional digits the currency does not allow.
func (m Money) Sanitize() Money {
	return Money{amount: m.amount.Truncate(Precision(m.currency)), currency: m.currency}
}

// IsSanitized reports whether m already fits the currency precision.
func (m Money) IsSanitized() bool {
	return m.amount.Equal(m.amount.Truncate(Precision(m.currency)))
}

// In re-expresses the amount in another currency's precision. No conversion
// rate is applied.
func (m Money) In(currency Currency) Money {
	return New(m.amount, currency).Sanitize()
}

// String formats a sanitized amount with exactly the currency's fractional
// digits. An unsanitized amount keeps all of its digits.
func (m Money) String() string {
	if !m.IsSanitized() {
		return m.amount.String()
	}
	return m.amount.StringFixed(Precision(m.currency))
}

func (m Money) Format() string {
	return fmt.Sprintf("%s %s", m.String(), m.currency)
}

type moneyJSON struct {
	Amount   string   `json:"amount"`
	Currency Currency `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.String(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Currency, raw.Amount)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
