package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit ledger",
		Run:   runAudit,
	}

	cmd.Flags().String("since", "", "Only entries at or after this RFC3339 time")
	cmd.Flags().String("until", "", "Only entries at or before this RFC3339 time")
	cmd.Flags().String("op", "", "Filter by operation")
	cmd.Flags().String("actor", "", "Filter by actor")
	cmd.Flags().StringP("subject", "s", "", "Filter by subject parameter")
	cmd.Flags().IntP("limit", "l", 0, "Keep only the most recent N entries")

	brainCmd.AddCommand(cmd)
}

func runAudit(cmd *cobra.Command, args []string) {
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	op, _ := cmd.Flags().GetString("op")
	actor, _ := cmd.Flags().GetString("actor")
	subject, _ := cmd.Flags().GetString("subject")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.AuditFilter{
		Op:      model.AuditOp(op),
		Actor:   actor,
		Subject: subject,
		Limit:   limit,
	}
	var err error
	if since != "" {
		if f.Since, err = time.Parse(time.RFC3339, since); err != nil {
			exitErr("audit", err)
		}
	}
	if until != "" {
		if f.Until, err = time.Parse(time.RFC3339, until); err != nil {
			exitErr("audit", err)
		}
	}

	h := openHandle(cmd, true)
	defer h.Close()

	entries, err := h.AuditQuery(f)
	if err != nil {
		exitErr("audit", err)
	}
	printJSON(cmd, entries)
}
