package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func networksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List known networks and their endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CATEGORY\tNETWORK\tENDPOINT\tURL")
			for _, cat := range cfg.Catalog().Categories() {
				for _, n := range cat.Networks {
					for _, e := range n.Endpoints {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cat.Name, n.ID, e.Label, e.URL)
					}
				}
			}
			return w.Flush()
		},
	}
}
