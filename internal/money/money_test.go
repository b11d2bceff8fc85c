package money

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmeticStaysExact(t *testing.T) {
	a := MustParse("EUR", "0.10")
	b := MustParse("EUR", "0.20")

	sum := a.Add(b)
	assert.Equal(t, "0.30", sum.String())
	assert.True(t, sum.Equal(MustParse("EUR", "0.3")))

	assert.Equal(t, "0.10", sum.Sub(b).String())
	assert.Equal(t, "3.00", a.Mul(30).String())
}

func TestMinAndCompare(t *testing.T) {
	low := MustParse("USD", "80.00")
	high := MustParse("USD", "95.00")

	assert.True(t, high.Min(low).Equal(low))
	assert.True(t, low.Min(high).Equal(low))
	assert.Equal(t, -1, low.Cmp(high))
	assert.True(t, high.GreaterThan(low))
	assert.True(t, low.LessThan(high))
	assert.True(t, MustParse("USD", "-0.01").IsNegative())
}

func TestSanitizeTruncatesToCurrencyPrecision(t *testing.T) {
	cases := []struct {
		currency Currency
		raw      string
		want     string
	}{
		{"JPY", "1234.99", "1234"},
		{"JPY", "10", "10"},
		{"EUR", "10.129", "10.12"},
		{"EUR", "10", "10.00"},
		{"usd", "0.015", "0.01"},
	}
	for _, tc := range cases {
		got := MustParse(tc.currency, tc.raw).Sanitize()
		assert.Equal(t, tc.want, got.String(), "%s %s", tc.currency, tc.raw)
		assert.True(t, got.IsSanitized())
		assert.True(t, got.Sanitize().Equal(got), "sanitize must be idempotent")
	}
}

func TestInChangesPrecisionWithoutConversion(t *testing.T) {
	m := MustParse("EUR", "12.75").In("JPY")
	assert.Equal(t, Currency("JPY"), m.Currency())
	assert.Equal(t, "12", m.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("EUR", "12,5")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Parse("EUR", "  ")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestJSONRoundTripKeepsCurrency(t *testing.T) {
	payload, err := json.Marshal(MustParse("JPY", "500"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"500","currency":"JPY"}`, string(payload))

	var decoded Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"19.90","currency":"eur"}`), &decoded))
	assert.Equal(t, Currency("EUR"), decoded.Currency())
	assert.Equal(t, "19.90", decoded.String())
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	p, err := r.Lookup("jpy")
	require.NoError(t, err)
	assert.Equal(t, int32(0), p)
	assert.False(t, r.AllowsFraction("KRW"))
	assert.True(t, r.AllowsFraction("EUR"))

	_, err = r.Lookup("XYZ")
	require.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "currencies.toml")
	require.NoError(t, os.WriteFile(path, []byte("[currencies.XTS]\nprecision = 0\n\n[currencies.ISK]\nprecision = 2\n"), 0o600))

	r, err := LoadRegistryFile(path)
	require.NoError(t, err)
	assert.Equal(t, int32(0), r.Precision("XTS"))
	assert.Equal(t, int32(2), r.Precision("ISK"))
	assert.Equal(t, int32(0), r.Precision("JPY"))
}

func TestWithOverridesRejectsOddPrecision(t *testing.T) {
	_, err := NewRegistry().WithOverrides(map[Currency]int32{"BHD": 3})
	require.Error(t, err)
}

func TestStringNeverChangesTheAmount(t *testing.T) {
	raw := MustParse("USD", "10.005")
	assert.Equal(t, "10.005", raw.String())
	assert.Equal(t, "10.00", raw.Sanitize().String())
	assert.Equal(t, "10.50", MustParse("USD", "10.5").String())

	payload, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"10.005","currency":"USD"}`, string(payload))

	var decoded Money
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.True(t, decoded.Equal(raw))
}
