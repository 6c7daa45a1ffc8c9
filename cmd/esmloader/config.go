package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after defaults, the config file and
ESMLOADER_* environment variables are merged.`,
	RunE: runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to esmloader.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := loadProject()
		if err != nil {
			return err
		}
		defer proj.Close()
		if err := proj.cfg.Save(rootDir); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Wrote esmloader.json")
		return nil
	},
}

func init() {
	configCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml or json")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	if proj.source != "" {
		fmt.Fprintf(os.Stderr, "Source: %s\n\n", proj.source)
	} else {
		fmt.Fprintf(os.Stderr, "Source: defaults\n\n")
	}

	switch configFormat {
	case "json":
		return writeJSON(os.Stdout, proj.cfg)
	case "toml":
		return toml.NewEncoder(os.Stdout).Encode(proj.cfg)
	default:
		return fmt.Errorf("unknown format %q (use toml or json)", configFormat)
	}
}
