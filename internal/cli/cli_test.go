package cli

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openinvoice/backend/internal/money"
	"openinvoice/backend/internal/pricing"
)

func run(t *testing.T, stdin string, args ...string) (map[string]any, error) {
	t.Helper()
	t.Cleanup(func() { money.SetDefault(nil) })

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--compact"}, args...))

	err := cmd.Execute()
	if out.Len() == 0 {
		return nil, err
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded), out.String())
	return decoded, err
}

func amountOf(t *testing.T, v any) string {
	t.Helper()
	m, ok := v.(map[string]any)
	require.True(t, ok, "expected money object, got %v", v)
	return m["amount"].(string)
}

var lineArgs = []string{
	"--line-outstanding", "228.00",
	"--tax", "38.00",
	"--discount", "10.00",
	"--unit", "20.00",
	"--outstanding-quantity", "10",
	"--document-outstanding", "150.00",
}

func TestCreditMax(t *testing.T) {
	out, err := run(t, "", append([]string{"credit", "max"}, lineArgs...)...)
	require.NoError(t, err)
	assert.Equal(t, "150.00", amountOf(t, out["max_creditable"]))
	assert.Equal(t, "200.00", amountOf(t, out["line_bound"]))
	assert.Equal(t, "150.00", amountOf(t, out["document_bound"]))
}

func TestCreditCheckByQuantity(t *testing.T) {
	out, err := run(t, "", append([]string{"credit", "check", "--quantity", "7"}, lineArgs...)...)
	require.NoError(t, err)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "140.00", amountOf(t, out["credit_amount"]))

	out, err = run(t, "", append([]string{"credit", "check", "--quantity", "8"}, lineArgs...)...)
	require.ErrorIs(t, err, ErrRejected)
	issues := out["issues"].([]any)
	require.Len(t, issues, 1)
	assert.Equal(t, "computed_amount_exceeds_limit", issues[0].(map[string]any)["code"])
}

func TestCreditCheckRequiresExactlyOneMode(t *testing.T) {
	_, err := run(t, "", append([]string{"credit", "check"}, lineArgs...)...)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestCreditCheckWithCurrencyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "currencies.toml")
	require.NoError(t, os.WriteFile(path, []byte("[currencies.XTS]\nprecision = 0\n"), 0o600))

	out, err := run(t, "", "--currencies", path, "credit", "check",
		"--currency", "XTS",
		"--line-outstanding", "100",
		"--document-outstanding", "100",
		"--amount", "12.9",
	)
	require.NoError(t, err)
	assert.Equal(t, "12", amountOf(t, out["credit_amount"]))
}

func TestTiersSeedAndEdit(t *testing.T) {
	seeded, err := run(t, "", "tiers", "seed", "--model", "volume", "--currency", "EUR", "--flat", "3.50")
	require.NoError(t, err)
	schedule, err := json.Marshal(seeded["schedule"])
	require.NoError(t, err)

	created, err := run(t, string(schedule), "tiers", "edit", "--op", "create")
	require.NoError(t, err)
	tiers := created["schedule"].([]any)
	require.Len(t, tiers, 3)
	assert.EqualValues(t, 2, tiers[1].(map[string]any)["from_value"])
	assert.Nil(t, tiers[2].(map[string]any)["to_value"])

	refused, err := run(t, string(schedule), "tiers", "edit", "--op", "remove", "--index", "1")
	require.ErrorIs(t, err, ErrRejected)
	assert.NotEmpty(t, refused["error"])
}

func TestTiersValidate(t *testing.T) {
	broken := `[{"from_value":0,"to_value":5,"unit_amount":{"amount":"1.00","currency":"EUR"}},
		{"from_value":9,"to_value":null,"unit_amount":{"amount":"0.50","currency":"EUR"}}]`

	out, err := run(t, broken, "tiers", "validate")
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, false, out["valid"])
}

func TestNumberingPreview(t *testing.T) {
	out, err := run(t, "", "numbering", "preview", "CN-{YY}{MM}-{SEQ:3}", "--next", "9", "--count", "2", "--at", "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, []any{"CN-2610-009", "CN-2610-010"}, out["numbers"])
}

func TestTiersEditRejectsMalformedSchedule(t *testing.T) {
	unboundedMiddle := `[{"from_value":0,"to_value":null,"unit_amount":{"amount":"3.00","currency":"EUR"}},
		{"from_value":1,"to_value":null,"unit_amount":{"amount":"2.00","currency":"EUR"}},
		{"from_value":2,"to_value":null,"unit_amount":{"amount":"1.00","currency":"EUR"}}]`

	for _, args := range [][]string{
		{"--op", "remove", "--index", "1"},
		{"--op", "boundary", "--index", "0", "--to", "4"},
		{"--op", "create"},
	} {
		out, err := run(t, unboundedMiddle, append([]string{"tiers", "edit"}, args...)...)
		require.ErrorIs(t, err, ErrRejected, args)
		assert.Contains(t, out["error"], pricing.ErrMissingBoundary.Error(), args)
		assert.Len(t, out["schedule"], 3, args)
	}
}

func TestTiersEditRejectsOverflowingBoundary(t *testing.T) {
	schedule := `[{"from_value":0,"to_value":1,"unit_amount":{"amount":"3.00","currency":"EUR"}},
		{"from_value":2,"to_value":null,"unit_amount":{"amount":"1.00","currency":"EUR"}}]`

	out, err := run(t, schedule, "tiers", "edit", "--op", "boundary", "--index", "0", "--to", strconv.FormatInt(math.MaxInt64, 10))
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, out["error"], pricing.ErrBoundaryOverflow.Error())
	tiers := out["schedule"].([]any)
	assert.EqualValues(t, 2, tiers[1].(map[string]any)["from_value"])
}
