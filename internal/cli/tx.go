package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chainclaw-xyz/chainclaw/internal/pipeline"
	"github.com/chainclaw-xyz/chainclaw/internal/txlog"
)

// NewTxCommand creates the `tx` command group for inspecting the
// transaction log.
func NewTxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Inspect recorded transactions",
	}
	cmd.AddCommand(newTxListCommand(opts))
	cmd.AddCommand(newTxShowCommand(opts))
	return cmd
}

func openStore(opts *RootOptions) (*txlog.Store, error) {
	if _, err := os.Stat(opts.DBPath); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("database not found at %s", opts.DBPath), err)
	}
	store, err := txlog.Open(opts.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return store, nil
}

func newTxListCommand(opts *RootOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListByUser(cmd.Context(), userID, limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list transactions", err)
			}
			total, err := store.CountByUser(cmd.Context(), userID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count transactions", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return out.Success(map[string]any{
					"user_id": userID,
					"total":   total,
					"records": records,
				})
			}
			return out.Success(renderRecordTable(records, total))
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to list transactions for")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to return")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newTxShowCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <transaction-id>",
		Short: "Show one transaction record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.GetByID(cmd.Context(), args[0])
			if errors.Is(err, txlog.ErrNotFound) {
				out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
				out.Error("E404", fmt.Sprintf("no transaction with id %s", args[0]), nil)
				return NewExitError(ExitFailure, "transaction not found")
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load transaction", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return out.Success(rec)
			}
			return out.Success(renderRecord(rec))
		},
	}
	return cmd
}

func renderRecordTable(records []txlog.Record, total int) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCHAIN\tSKILL\tAMOUNT\tCREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Status, r.ChainID, r.Skill,
			pipeline.FormatUSD(r.AmountUSD),
			r.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()
	fmt.Fprintf(&b, "%d of %d transaction(s)", len(records), total)
	return b.String()
}

func renderRecord(r txlog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:       %s\n", r.ID)
	fmt.Fprintf(&b, "User:     %s\n", r.UserID)
	fmt.Fprintf(&b, "Chain:    %d\n", r.ChainID)
	fmt.Fprintf(&b, "Skill:    %s\n", r.Skill)
	fmt.Fprintf(&b, "Intent:   %s\n", r.Intent)
	fmt.Fprintf(&b, "Status:   %s\n", r.Status)
	fmt.Fprintf(&b, "Amount:   %s\n", pipeline.FormatUSD(r.AmountUSD))
	if r.TxHash != "" {
		fmt.Fprintf(&b, "Hash:     %s\n", r.TxHash)
	}
	if r.BlockNumber != 0 {
		fmt.Fprintf(&b, "Block:    %d\n", r.BlockNumber)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", r.Error)
	}
	fmt.Fprintf(&b, "Created:  %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Updated:  %s", r.UpdatedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}
