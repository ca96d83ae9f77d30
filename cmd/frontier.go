package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fin-groups/internal/entity"
)

var frontierCmd = &cobra.Command{
	Use:   "frontier",
	Short: "List crawl frontier entries",
	Long:  "Lists crawl state rows by status, shallowest first. Pending rows are the companies still to be fetched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		switch status {
		case entity.CrawlPending, entity.CrawlInProgress, entity.CrawlDone, entity.CrawlFailed:
		default:
			return eris.Errorf("unknown crawl status %q", status)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		states, err := st.ListCrawlState(ctx, status, limit)
		if err != nil {
			return eris.Wrap(err, "frontier")
		}
		if len(states) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No entries found.")
			return nil
		}

		formatFrontier(cmd.OutOrStdout(), states)
		return nil
	},
}

func formatFrontier(out io.Writer, states []entity.CrawlState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ENTITY\tTYPE\tSTATUS\tDEPTH")
	_, _ = fmt.Fprintln(w, "------\t----\t------\t-----")
	for _, s := range states {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.EntityID, s.EntityType, s.Status, s.Depth)
	}
	_ = w.Flush()
}

func init() {
	frontierCmd.Flags().String("status", entity.CrawlPending, "crawl status to list (pending, in_progress, done, failed)")
	frontierCmd.Flags().Int("limit", 50, "max number of entries to display")
	rootCmd.AddCommand(frontierCmd)
}
