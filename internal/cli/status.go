package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/packdelivery/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Database string
	Unit     string
}

// StatusResult is the status command's output.
type StatusResult struct {
	Units       []store.UnitRecord       `json:"units"`
	Transitions []store.TransitionRecord `json:"transitions,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the delivery journal",
		Long: `Print every unit's last known state and local path from the delivery
journal. With --verbose, or with --unit, the transition log is printed too.

Example:
  packdelivery status --db ./delivery.db
  packdelivery status --db ./delivery.db --unit Level1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the delivery journal (required)")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "only show transitions of this unit")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Opening would create an empty journal.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("journal not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail("failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var result StatusResult
	result.Units, err = st.Units(ctx)
	if err != nil {
		return formatter.Fail("failed to read units", err)
	}
	if opts.Unit != "" || opts.Verbose {
		result.Transitions, err = st.Transitions(ctx, opts.Unit)
		if err != nil {
			return formatter.Fail("failed to read transitions", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if len(result.Units) == 0 {
		fmt.Fprintln(w, "No units recorded")
	}
	for _, u := range result.Units {
		fmt.Fprintf(w, "%-24s %-12s seq %-6d %s\n", u.Name, u.State, u.LastSeq, u.LocalPath)
	}
	if len(result.Transitions) > 0 {
		fmt.Fprintln(w)
	}
	for _, t := range result.Transitions {
		line := fmt.Sprintf("%6d  %s  %-24s %-12s", t.Seq, t.RecordedAt.Format(time.RFC3339), t.Unit, t.State)
		if t.Message != "" {
			line += "  " + t.Message
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
