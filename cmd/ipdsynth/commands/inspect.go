package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inferloop/ipdsynth/internal/dataset"
	"github.com/inferloop/ipdsynth/internal/models"
	"github.com/inferloop/ipdsynth/internal/summary"
)

func NewInspectCmd(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the strata and correlation summary of the stored bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), global, os.Stdout)
		},
	}
}

func runInspect(ctx context.Context, global *GlobalOptions, w io.Writer) error {
	env, err := loadEnvironment(global)
	if err != nil {
		return err
	}
	store, err := env.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	bundle, err := store.LoadBundle(ctx)
	if err != nil {
		return err
	}
	return writeBundle(w, bundle)
}

func writeBundle(w io.Writer, bundle *models.Bundle) error {
	fmt.Fprintf(w, "run %s created %s\n\n", bundle.RunID, bundle.CreatedAt.Format("2006-01-02 15:04:05"))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATUM\tN")
	for _, s := range bundle.Strata {
		n := "-"
		if sum, ok := bundle.Summaries[s.ID]; ok {
			n = sum.Count.String()
		}
		fmt.Fprintf(tw, "%s\t%s\n", summary.StratumLabel(s, bundle.Categorical), n)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(bundle.CorrSummary) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(tw, "PAIR\tMEAN\tSD\tSTRATA")
	for _, ps := range bundle.CorrSummary {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", ps.Pair.Column(),
			dataset.FormatValue(ps.Mean), dataset.FormatValue(ps.SD), ps.Strata)
	}
	return tw.Flush()
}
