// Package cli implements invoicectl, an offline tool over the credit bound
// calculator, the tier builder and numbering templates.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"openinvoice/backend/internal/money"
)

// ErrRejected is returned after a result with issues has been printed so the
// process exits non-zero.
var ErrRejected = errors.New("rejected")

type rootOptions struct {
	currenciesFile string
	compact        bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Offline checks for credit notes, price tiers and document numbering",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.loadCurrencies()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.currenciesFile, "currencies", os.Getenv("CURRENCIES_FILE"), "TOML file with extra currency precisions")
	rootCmd.PersistentFlags().BoolVar(&opts.compact, "compact", false, "print JSON on one line")

	rootCmd.AddCommand(newCreditCmd(opts))
	rootCmd.AddCommand(newTiersCmd(opts))
	rootCmd.AddCommand(newNumberingCmd(opts))
	rootCmd.AddCommand(newCurrenciesCmd(opts))

	return rootCmd
}

func (o *rootOptions) loadCurrencies() error {
	path := strings.TrimSpace(o.currenciesFile)
	if path == "" {
		money.SetDefault(nil)
		return nil
	}
	registry, err := money.LoadRegistryFile(path)
	if err != nil {
		return err
	}
	money.SetDefault(registry)
	return nil
}

func (o *rootOptions) print(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if !o.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// reject prints a refused result and returns ErrRejected.
func (o *rootOptions) reject(w io.Writer, v any) error {
	if err := o.print(w, v); err != nil {
		return err
	}
	return ErrRejected
}

func newCurrenciesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "currencies",
		Short: "List known currencies and their precision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := money.Default()
			out := make(map[money.Currency]int32)
			for _, code := range registry.Codes() {
				out[code] = registry.Precision(code)
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
}

// parseCurrency rejects codes the active registry does not know.
func parseCurrency(raw string) (money.Currency, error) {
	code := money.Currency(raw).Normalize()
	if _, err := money.Default().Lookup(code); err != nil {
		return "", err
	}
	return code, nil
}

func parseMoney(currency money.Currency, flag string, raw string) (money.Money, error) {
	if strings.TrimSpace(raw) == "" {
		return money.Zero(currency), nil
	}
	m, err := money.Parse(currency, raw)
	if err != nil {
		return money.Money{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return m.Sanitize(), nil
}
