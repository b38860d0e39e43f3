package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/skyward-obs/features-cli/internal/model"
	"github.com/skyward-obs/features-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect feature-generation run history",
	Long:  "Commands for listing recorded runs and looking up the latest run for a unit.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		field, _ := cmd.Flags().GetInt("field")
		ccd, _ := cmd.Flags().GetInt("ccd")
		quad, _ := cmd.Flags().GetInt("quad")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Field: field,
			CCD:   ccd,
			Quad:  quad,
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs latest --

var runsLatestCmd = &cobra.Command{
	Use:   "latest <field> <ccd> <quad>",
	Short: "Show the latest run for a unit",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		unit, err := parseUnitArgs(args)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.LatestForUnit(ctx, unit)
		if err != nil {
			return eris.Wrap(err, "runs latest")
		}
		if run == nil {
			fmt.Fprintf(os.Stderr, "No runs recorded for %s.\n", unit)
			return nil
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().Int("field", 0, "filter by survey field")
	runsListCmd.Flags().Int("ccd", 0, "filter by CCD")
	runsListCmd.Flags().Int("quad", 0, "filter by readout quadrant")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsLatestCmd)
	rootCmd.AddCommand(runsCmd)
}

// parseUnitArgs converts the positional field/ccd/quad arguments to a Unit.
func parseUnitArgs(args []string) (model.Unit, error) {
	field, err := strconv.Atoi(args[0])
	if err != nil {
		return model.Unit{}, eris.Wrapf(err, "parse field %q", args[0])
	}
	ccd, err := strconv.Atoi(args[1])
	if err != nil {
		return model.Unit{}, eris.Wrapf(err, "parse ccd %q", args[1])
	}
	quad, err := strconv.Atoi(args[2])
	if err != nil {
		return model.Unit{}, eris.Wrapf(err, "parse quad %q", args[2])
	}
	return model.Unit{Field: field, CCD: ccd, Quad: quad}, nil
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUNIT\tROWS\tCATALOG\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-------\t-------\t--------")

	for _, r := range runs {
		dur := r.Meta.End.Sub(r.Meta.Start).Round(time.Second).String()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Meta.Unit,
			r.Meta.Rows,
			r.Meta.SourceCatalog,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
