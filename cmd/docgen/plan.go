package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docbatch/backend/internal/dataset"
	"github.com/docbatch/backend/internal/grouping"
)

type groupFlags struct {
	rulesFile string
	keyField  string
	maxSlots  int
}

func (g *groupFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.rulesFile, "rules", "", "YAML template set for grouped mode")
	cmd.Flags().StringVar(&g.keyField, "key", "", "grouping column (overrides config)")
	cmd.Flags().IntVar(&g.maxSlots, "max-slots", 0, "values per document (overrides config)")
}

// templateSet applies the flags on top of base.
func (g *groupFlags) templateSet(base *grouping.TemplateSet) (*grouping.TemplateSet, error) {
	set := *base
	if g.rulesFile != "" {
		loaded, err := grouping.LoadTemplateSet(g.rulesFile)
		if err != nil {
			return nil, err
		}
		set = *loaded
	}
	if g.keyField != "" {
		set.KeyField = g.keyField
	}
	if g.maxSlots > 0 {
		set.MaxSlots = g.maxSlots
	}
	return &set, nil
}

func newPlanCommand(root *rootOptions) *cobra.Command {
	var flags groupFlags

	cmd := &cobra.Command{
		Use:   "plan <dataset>",
		Short: "Show how records are grouped onto multi-value templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			base := grouping.DefaultTemplateSet()
			base.KeyField = cfg.Grouping.KeyField
			base.MaxSlots = cfg.Grouping.MaxSlots
			set, err := flags.templateSet(base)
			if err != nil {
				return err
			}

			reg := dataset.DefaultRegistry(dataset.DuckOptions{
				Threads:     cfg.Advanced.DuckDBThreads,
				MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			})
			ds, err := reg.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			assignments := grouping.GroupAndAssign(ds.Records, set.KeyField, set.MaxSlots)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tPART\tVALUES\tCHOICE\tTEMPLATE\tOUTPUT")
			for _, a := range assignments {
				fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%s\t%s\t%s\n",
					a.Key, a.Part, a.Parts, len(a.Values), a.Choice, set.TemplateFor(a.Slots), set.OutputName(a))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d records, %d documents\n", len(ds.Records), len(assignments))
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
