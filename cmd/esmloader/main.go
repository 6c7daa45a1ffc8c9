package main

import (
	"errors"
	"fmt"
	"os"

	ckerrors "esmloader/internal/errors"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var e *ckerrors.Error
	if !errors.As(err, &e) {
		return
	}
	for _, fix := range e.SuggestedFixes {
		switch {
		case fix.Command != "":
			fmt.Fprintf(os.Stderr, "  hint: run %q (%s)\n", fix.Command, fix.Description)
		case fix.Description != "":
			fmt.Fprintf(os.Stderr, "  hint: %s\n", fix.Description)
		}
	}
}
