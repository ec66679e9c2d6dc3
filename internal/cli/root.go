package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainclaw-xyz/chainclaw/internal/config"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	DBPath     string
	ConfigPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the chainclaw CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "chainclaw",
		Short:        "chainclaw - transaction execution pipeline",
		Long:         "Inspect the transaction log and validate guardrail policies for the chainclaw execution pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			// The --db flag wins over the config file.
			if opts.ConfigPath != "" && !cmd.Flags().Changed("db") {
				cfg, err := config.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				opts.DBPath = cfg.DBPath
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "chainclaw.db", "path to the transaction log database")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a config file supplying db_path")

	cmd.AddCommand(NewTxCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
