package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/rentalreports/internal/catalog"
	"github.com/rpattn/rentalreports/internal/domain"
	"github.com/rpattn/rentalreports/internal/rental"
)

// listCmd prints the report catalog without touching the data source.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the reports in the catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var extra []domain.Definition
		if cfg.Catalog.Path != "" {
			defs, err := catalog.LoadDefinitionsFile(cfg.Catalog.Path)
			if err != nil {
				return err
			}
			extra = defs
		}
		cat, err := rental.NewCatalog(cfg.Database.PhysicalSchema(), extra...)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tINPUTS\tCOLUMNS")
		for _, name := range cat.Names() {
			report, _ := cat.Get(name)
			kind := "report"
			if report.Definition.Standing {
				kind = "view"
			}
			columns := make([]string, len(report.Output))
			for i, col := range report.Output {
				columns[i] = col.Name + ":" + string(col.Type)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, kind,
				strings.Join(report.Definition.Sources(), ","), strings.Join(columns, ","))
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
