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
	"openinvoice/backend/internal/pricing"
)

type tiersOutput struct {
	Model      pricing.Model    `json:"model,omitempty"`
	Currency   money.Currency   `json:"currency"`
	FlatAmount *money.Money     `json:"flat_amount,omitempty"`
	Schedule   pricing.Schedule `json:"schedule"`
	Error      string           `json:"error,omitempty"`
}

func newTiersCmd(opts *rootOptions) *cobra.Command {
	tiersCmd := &cobra.Command{
		Use:   "tiers",
		Short: "Build and check tiered price schedules",
	}
	tiersCmd.AddCommand(newTiersSeedCmd(opts))
	tiersCmd.AddCommand(newTiersEditCmd(opts))
	tiersCmd.AddCommand(newTiersValidateCmd(opts))
	return tiersCmd
}

func newTiersSeedCmd(opts *rootOptions) *cobra.Command {
	var model, currency, flat string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Start a schedule by switching a flat price to a tiered model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := pricing.Model(strings.ToLower(strings.TrimSpace(model)))
			if !target.Valid() {
				return fmt.Errorf("unknown pricing model %q", model)
			}
			code, err := parseCurrency(currency)
			if err != nil {
				return err
			}
			flatAmount, err := parseMoney(code, "flat", flat)
			if err != nil {
				return err
			}

			schedule, nextFlat := pricing.OnModelChange(target, nil, flatAmount, money.Zero(code))
			return opts.print(cmd.OutOrStdout(), tiersOutput{
				Model:      target,
				Currency:   code,
				FlatAmount: &nextFlat,
				Schedule:   emptyIfNil(schedule),
			})
		},
	}
	cmd.Flags().StringVar(&model, "model", string(pricing.ModelGraduated), "target model: flat, volume or graduated")
	cmd.Flags().StringVar(&currency, "currency", "EUR", "price currency")
	cmd.Flags().StringVar(&flat, "flat", "0", "current flat amount")
	return cmd
}

func newTiersEditCmd(opts *rootOptions) *cobra.Command {
	var (
		file        string
		op          string
		index       int
		to          int64
		unbounded   bool
		newCurrency string
	)

	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Apply one edit to a schedule read from --file or stdin",
		Long: `Apply one edit to a schedule. The schedule is a JSON array of tiers:
  [{"from_value":0,"to_value":10,"unit_amount":{"amount":"2.00","currency":"EUR"}}, ...]
Operations: boundary (--index, --to), create, remove (--index), currency (--to-currency).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule, err := readSchedule(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			operation := strings.ToLower(strings.TrimSpace(op))
			switch operation {
			case "boundary", "create", "remove", "currency":
			default:
				return fmt.Errorf("unknown operation %q", op)
			}
			if err := pricing.Validate(schedule); err != nil {
				return opts.reject(cmd.OutOrStdout(), tiersOutput{
					Currency: scheduleCurrency(schedule),
					Schedule: emptyIfNil(schedule),
					Error:    err.Error(),
				})
			}

			var next pricing.Schedule
			switch operation {
			case "boundary":
				var bound *int64
				if !unbounded {
					bound = &to
				}
				next, err = pricing.OnTierBoundaryChange(schedule, index, bound)
			case "create":
				next, err = pricing.OnTierCreate(schedule)
			case "remove":
				next, err = pricing.OnTierRemove(schedule, index)
			case "currency":
				code, lookupErr := parseCurrency(newCurrency)
				if lookupErr != nil {
					return lookupErr
				}
				next = pricing.OnCurrencyChange(schedule, code)
			}

			out := tiersOutput{Currency: scheduleCurrency(schedule), Schedule: emptyIfNil(next)}
			if err != nil {
				out.Schedule = emptyIfNil(schedule)
				out.Error = err.Error()
				return opts.reject(cmd.OutOrStdout(), out)
			}
			out.Currency = scheduleCurrency(next)
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "schedule JSON file, - for stdin")
	cmd.Flags().StringVar(&op, "op", "", "boundary, create, remove or currency")
	cmd.Flags().IntVar(&index, "index", 0, "tier index for boundary and remove")
	cmd.Flags().Int64Var(&to, "to", 0, "new last unit for boundary")
	cmd.Flags().BoolVar(&unbounded, "unbounded", false, "clear the boundary instead of setting --to")
	cmd.Flags().StringVar(&newCurrency, "to-currency", "", "target currency for the currency operation")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func newTiersValidateCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a schedule is contiguous from zero and ends unbounded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule, err := readSchedule(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			out := map[string]any{"valid": true, "tiers": len(schedule)}
			if err := pricing.Validate(schedule); err != nil {
				out["valid"] = false
				out["error"] = err.Error()
				return opts.reject(cmd.OutOrStdout(), out)
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "schedule JSON file, - for stdin")
	return cmd
}

func readSchedule(stdin io.Reader, file string) (pricing.Schedule, error) {
	var r io.Reader = stdin
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var schedule pricing.Schedule
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&schedule); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no schedule given")
		}
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return schedule, nil
}

func scheduleCurrency(s pricing.Schedule) money.Currency {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].UnitAmount.Currency()
}

func emptyIfNil(s pricing.Schedule) pricing.Schedule {
	if s == nil {
		return pricing.Schedule{}
	}
	return s
}
