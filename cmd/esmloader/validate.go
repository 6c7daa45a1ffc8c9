package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	ckerrors "esmloader/internal/errors"
	"esmloader/internal/index"
	"esmloader/internal/paths"
	"esmloader/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the module index without building",
	Long: `Validate every module index entry: file extension, file presence,
option names and values, and that each DOM polyfill is a devDependency.
All problems are reported together.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	p, err := pipeline.New(rootDir, proj.cfg, proj.logger)
	if err != nil {
		return err
	}

	ix, err := p.LoadIndex()
	if err != nil {
		var ce *ckerrors.Error
		if errors.As(err, &ce) {
			if problems, ok := ce.Details.([]index.Problem); ok {
				fmt.Fprintf(os.Stderr, "%s\n", ce.Message)
				for _, prob := range problems {
					fmt.Fprintf(os.Stderr, "  - %s\n", prob.Error())
				}
				return fmt.Errorf("validation failed")
			}
		}
		return err
	}

	fmt.Printf("%s: %d modules OK\n", paths.Display(ix.Path, p.Paths().Root), len(ix.Keys()))
	return nil
}
