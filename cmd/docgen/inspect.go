package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docbatch/backend/internal/dataset"
)

func newInspectCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <dataset>",
		Short: "Show the columns and record count of a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			reg := dataset.DefaultRegistry(dataset.DuckOptions{
				Threads:     cfg.Advanced.DuckDBThreads,
				MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			})
			ds, err := reg.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"columns": ds.Columns,
					"records": len(ds.Records),
				})
			}
			fmt.Fprintf(out, "records: %d\n", len(ds.Records))
			fmt.Fprintf(out, "columns: %s\n", strings.Join(ds.Columns, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
