package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var flowsCmd = &cobra.Command{
	Use:   "flows [name...]",
	Short: "List the available flows, including config overrides",
	RunE:  runFlows,
}

func init() {
	flowsCmd.Flags().Bool("json", false, "print full definitions as JSON")
}

func runFlows(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}

	names := args
	if len(names) == 0 {
		names = registry.Names()
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		for _, name := range names {
			def, err := registry.Get(name)
			if err != nil {
				return err
			}
			if err := enc.Encode(def); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTEPS\tDESCRIPTION")
	for _, name := range names {
		def, err := registry.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", def.Name, len(def.Steps), def.Description)
	}
	return tw.Flush()
}
