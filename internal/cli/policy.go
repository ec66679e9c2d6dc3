package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chainclaw-xyz/chainclaw/internal/guardrails"
	"github.com/chainclaw-xyz/chainclaw/internal/pipeline"
)

// NewPolicyCommand creates the `policy` command group for guardrail
// policy files.
func NewPolicyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and inspect guardrail policies",
	}
	cmd.AddCommand(newPolicyValidateCommand(opts))
	return cmd
}

func newPolicyValidateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <policy-dir>",
		Short: "Validate a CUE policy directory and print the resolved limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

			policy, err := guardrails.LoadPolicy(args[0])
			if err != nil {
				out.Error("E100", "policy validation failed", err.Error())
				return NewExitError(ExitFailure, "policy validation failed")
			}

			if opts.Format == "json" {
				return out.Success(policy)
			}
			return out.Success(renderPolicy(policy))
		},
	}
	return cmd
}

func renderPolicy(p guardrails.Policy) string {
	var b strings.Builder
	b.WriteString("Policy OK\n\ndefault:\n")
	writeLimits(&b, p.Default)

	users := make([]string, 0, len(p.Users))
	for u := range p.Users {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		fmt.Fprintf(&b, "\nuser %s:\n", u)
		writeLimits(&b, p.Users[u])
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeLimits(b *strings.Builder, l guardrails.Limits) {
	fmt.Fprintf(b, "  max per tx:       %s\n", pipeline.FormatUSD(l.MaxPerTxUSD))
	fmt.Fprintf(b, "  daily max:        %s\n", pipeline.FormatUSD(l.DailyMaxUSD))
	fmt.Fprintf(b, "  daily tx count:   %d\n", l.DailyMaxTxCount)
	fmt.Fprintf(b, "  cooldown:         %ds\n", l.CooldownSeconds)
	fmt.Fprintf(b, "  confirm over:     %s\n", pipeline.FormatUSD(l.ConfirmOverUSD))
}
