package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show brain statistics",
		Run:   runStats,
	}

	brainCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	h := openHandle(cmd, true)
	defer h.Close()

	stats, err := h.Stats()
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(cmd, map[string]any{
		"brain": h.Manifest().Summary(),
		"stats": stats,
	})
}
