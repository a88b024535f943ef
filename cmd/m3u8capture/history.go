package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent captures",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of captures to show")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	svc, _, _, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	list, err := svc.History(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for _, c := range list {
		fmt.Printf("%s  %-9s  %s  %d  %s\n", c.StartedAt.Format(time.DateTime), c.State, c.ID, len(c.URLs), c.TargetURL)
		for _, u := range c.URLs {
			fmt.Printf("    %s\n", u)
		}
	}
	return nil
}
