package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fin-groups/internal/entity"
	"github.com/sells-group/fin-groups/internal/groups"
)

// -- entity --

var entityCmd = &cobra.Command{
	Use:   "entity <id>",
	Short: "Show one entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		e, err := st.GetEntity(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "entity")
		}
		if e == nil {
			return eris.Errorf("entity %s not found", args[0])
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	},
}

// -- group --

var groupCmd = &cobra.Command{
	Use:   "group <id>",
	Short: "Show the ownership component containing an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		members, err := st.GetGroup(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "group")
		}
		if len(members) == 0 {
			return eris.Errorf("entity %s not found", args[0])
		}
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		edges, err := st.GroupOwnerships(ctx, ids)
		if err != nil {
			return eris.Wrap(err, "group ownerships")
		}

		formatGroup(cmd.OutOrStdout(), members, edges)
		return nil
	},
}

// -- groups --

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Detect company groups under common control",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("query"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		out, err := groups.NewDetector(st, groupPolicy(), nil).FindCompanyGroups(ctx)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		if len(out) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No groups found.")
			return nil
		}
		formatGroups(cmd.OutOrStdout(), out)
		return nil
	},
}

func formatGroup(out io.Writer, members []entity.Entity, edges []entity.Ownership) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tNAME\tCOUNTRY")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-------")
	for _, m := range members {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Type, truncate(m.Name, 40), m.Country)
	}
	_ = w.Flush()

	if len(edges) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "OWNER\tOWNED\tROLE\tSHARE\tLEVEL")
	_, _ = fmt.Fprintln(w, "-----\t-----\t----\t-----\t-----")
	for _, e := range edges {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.OwnerID, e.OwnedID, truncate(e.Role, 30), formatShare(e.SharePercent), e.ControlLevel)
	}
	_ = w.Flush()
}

func formatGroups(out io.Writer, gs [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GROUP\tSIZE\tCOMPANIES")
	_, _ = fmt.Fprintln(w, "-----\t----\t---------")
	for i, g := range gs {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\n", i+1, len(g), strings.Join(g, ", "))
	}
	_ = w.Flush()
}

func formatShare(p *float64) string {
	if p == nil {
		return "-"
	}
	return strconv.FormatFloat(*p, 'f', -1, 64) + "%"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	groupsCmd.Flags().Bool("json", false, "print groups as JSON")

	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(groupsCmd)
}
