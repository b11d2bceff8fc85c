package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"openinvoice/backend/internal/creditnote"
	"openinvoice/backend/internal/money"
)

type lineFlags struct {
	currency            string
	lineOutstanding     string
	tax                 string
	discount            string
	unit                string
	outstandingQuantity int64
	documentOutstanding string
}

func (f *lineFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.currency, "currency", "EUR", "document currency")
	cmd.Flags().StringVar(&f.lineOutstanding, "line-outstanding", "", "outstanding amount of the line")
	cmd.Flags().StringVar(&f.tax, "tax", "0", "total tax amount of the line")
	cmd.Flags().StringVar(&f.discount, "discount", "0", "total discount amount of the line")
	cmd.Flags().StringVar(&f.unit, "unit", "0", "unit amount of the line")
	cmd.Flags().Int64Var(&f.outstandingQuantity, "outstanding-quantity", 0, "outstanding quantity of the line")
	cmd.Flags().StringVar(&f.documentOutstanding, "document-outstanding", "", "outstanding amount of the whole document")
	_ = cmd.MarkFlagRequired("line-outstanding")
	_ = cmd.MarkFlagRequired("document-outstanding")
}

func (f *lineFlags) snapshot() (money.Currency, creditnote.CreditableLine, creditnote.CreditableDocument, error) {
	currency, err := parseCurrency(f.currency)
	if err != nil {
		return "", creditnote.CreditableLine{}, creditnote.CreditableDocument{}, err
	}
	if f.outstandingQuantity < 0 {
		return "", creditnote.CreditableLine{}, creditnote.CreditableDocument{}, fmt.Errorf("--outstanding-quantity must not be negative")
	}

	line := creditnote.CreditableLine{ID: "line", OutstandingQuantity: f.outstandingQuantity}
	doc := creditnote.CreditableDocument{ID: "document"}
	for _, field := range []struct {
		flag string
		raw  string
		dest *money.Money
	}{
		{"line-outstanding", f.lineOutstanding, &line.OutstandingAmount},
		{"tax", f.tax, &line.TotalTaxAmount},
		{"discount", f.discount, &line.TotalDiscountAmount},
		{"unit", f.unit, &line.UnitAmount},
		{"document-outstanding", f.documentOutstanding, &doc.OutstandingAmount},
	} {
		m, err := parseMoney(currency, field.flag, field.raw)
		if err != nil {
			return "", creditnote.CreditableLine{}, creditnote.CreditableDocument{}, err
		}
		*field.dest = m
	}
	return currency, line, doc, nil
}

func newCreditCmd(opts *rootOptions) *cobra.Command {
	creditCmd := &cobra.Command{
		Use:   "credit",
		Short: "Compute and check credit note amounts for a single line",
	}
	creditCmd.AddCommand(newCreditMaxCmd(opts))
	creditCmd.AddCommand(newCreditCheckCmd(opts))
	return creditCmd
}

func newCreditMaxCmd(opts *rootOptions) *cobra.Command {
	flags := &lineFlags{}
	cmd := &cobra.Command{
		Use:   "max",
		Short: "Print the maximum creditable amount and the limits behind it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, line, doc, err := flags.snapshot()
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), creditnote.ComputeBounds(line, doc))
		},
	}
	flags.bind(cmd)
	return cmd
}

type creditCheckOutput struct {
	Bounds       creditnote.Bounds  `json:"bounds"`
	Valid        bool               `json:"valid"`
	CreditAmount *money.Money       `json:"credit_amount,omitempty"`
	Issues       []creditnote.Issue `json:"issues"`
}

func newCreditCheckCmd(opts *rootOptions) *cobra.Command {
	flags := &lineFlags{}
	var amount, quantity string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a proposed credit by amount or by quantity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			currency, line, doc, err := flags.snapshot()
			if err != nil {
				return err
			}
			hasAmount := strings.TrimSpace(amount) != ""
			hasQuantity := strings.TrimSpace(quantity) != ""
			if hasAmount == hasQuantity {
				return fmt.Errorf("exactly one of --amount or --quantity is required")
			}

			bounds := creditnote.ComputeBounds(line, doc)
			out := creditCheckOutput{Bounds: bounds, Issues: []creditnote.Issue{}}

			var request creditnote.CreditRequest
			if hasAmount {
				m, err := parseMoney(currency, "amount", amount)
				if err != nil {
					return err
				}
				request = creditnote.ByAmount{Amount: m}
			} else {
				qty, issue := creditnote.ParseQuantity(quantity)
				if issue != nil {
					out.Issues = append(out.Issues, *issue)
					return opts.reject(cmd.OutOrStdout(), out)
				}
				request = creditnote.ByQuantity{Quantity: qty}
			}

			result := creditnote.ValidateCreditRequest(request, line, bounds)
			if result.OK() {
				resolved := creditnote.ResolveAmount(request, line)
				out.Valid = true
				out.CreditAmount = &resolved
			} else {
				out.Issues = result.Issues
			}
			if !out.Valid {
				return opts.reject(cmd.OutOrStdout(), out)
			}
			return opts.print(cmd.OutOrStdout(), out)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&amount, "amount", "", "credit by amount")
	cmd.Flags().StringVar(&quantity, "quantity", "", "credit by quantity")
	return cmd
}
