package main

import (
	"errors"
	"fmt"
	"os"

	"openinvoice/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, cli.ErrRejected) {
			fmt.Fprintln(os.Stderr, "invoicectl:", err)
		}
		os.Exit(1)
	}
}
