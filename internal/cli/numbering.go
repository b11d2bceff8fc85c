package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"openinvoice/backend/internal/numbering"
)

func newNumberingCmd(opts *rootOptions) *cobra.Command {
	numberingCmd := &cobra.Command{
		Use:   "numbering",
		Short: "Work with document numbering templates",
	}
	numberingCmd.AddCommand(newNumberingPreviewCmd(opts))
	return numberingCmd
}

func newNumberingPreviewCmd(opts *rootOptions) *cobra.Command {
	var (
		next  int64
		count int
		at    string
	)

	cmd := &cobra.Command{
		Use:     "preview TEMPLATE",
		Short:   "Render the next numbers a template produces",
		Example: `  invoicectl numbering preview "INV-{YYYY}-{SEQ:5}" --next 42 --count 3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse("2006-01-02", at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				when = parsed
			}
			numbers, err := numbering.Preview(args[0], next, when, count)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{
				"template": args[0],
				"numbers":  numbers,
			})
		},
	}
	cmd.Flags().Int64Var(&next, "next", 1, "next sequence value")
	cmd.Flags().IntVar(&count, "count", 5, "how many numbers to render")
	cmd.Flags().StringVar(&at, "at", "", "render date as YYYY-MM-DD (default today)")
	return cmd
}
