package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/inferloop/ipdsynth/internal/validation"
)

type ValidateOptions struct {
	OriginalFile  string
	SyntheticFile string
	Alpha         float64
	Tables        bool
}

func NewValidateCmd(global *GlobalOptions) *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compare a synthetic table with the original",
		Long: `Compare marginal moments, two-sample Kolmogorov-Smirnov statistics, stratum
sizes and pairwise correlations of a synthetic table against the original.`,
		Example: `  ipdsynth validate --original ipd.csv --synthetic synthetic.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), global, opts)
		},
	}

	cmd.Flags().StringVar(&opts.OriginalFile, "original", "", "Original CSV file")
	cmd.Flags().StringVar(&opts.SyntheticFile, "synthetic", "", "Synthetic CSV file")
	cmd.Flags().Float64Var(&opts.Alpha, "alpha", 0.05, "Significance level of the KS tests")
	cmd.Flags().BoolVar(&opts.Tables, "tables", false, "Also check the stored quantile tables against the original")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("synthetic")

	return cmd
}

func runValidate(ctx context.Context, global *GlobalOptions, opts *ValidateOptions) error {
	env, err := loadEnvironment(global)
	if err != nil {
		return err
	}
	original, err := env.readDataset(ctx, opts.OriginalFile)
	if err != nil {
		return err
	}
	synthetic, err := env.readDataset(ctx, opts.SyntheticFile)
	if err != nil {
		return err
	}

	validator := validation.NewStatisticalValidator(&validation.StatisticalValidatorConfig{SignificanceLevel: opts.Alpha}, env.logger)
	report, err := validator.Compare(ctx, original, synthetic)
	if err != nil {
		return err
	}

	if opts.Tables {
		store, err := env.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		bundle, err := store.LoadBundle(ctx)
		if err != nil {
			return err
		}
		if report.Tables, err = validator.CheckTables(ctx, bundle, original); err != nil {
			return err
		}
	}
	return report.WriteText(os.Stdout)
}
