package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Suppress a memory on every branch",
		Long:  "Suppress every existing version of subject/predicate covered by --scope. Nothing is deleted; later appends are visible again.",
		Run:   runForget,
	}

	cmd.Flags().StringP("subject", "s", "", "Subject (required)")
	cmd.Flags().StringP("predicate", "p", "", "Predicate (required)")
	cmd.Flags().String("scope", "global", "Scope: global, tenant, branch")
	cmd.Flags().StringP("reason", "r", "", "Why the memory is forgotten")

	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("predicate")

	brainCmd.AddCommand(cmd)
}

func runForget(cmd *cobra.Command, args []string) {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	scopeStr, _ := cmd.Flags().GetString("scope")
	reason, _ := cmd.Flags().GetString("reason")

	scope, err := model.ParseScope(scopeStr)
	if err != nil {
		exitErr("forget", err)
	}

	h := openHandle(cmd, false)
	defer h.Close()

	sup, err := h.Forget(store.ForgetParams{
		Subject:   subject,
		Predicate: predicate,
		Scope:     scope,
		Reason:    reason,
	})
	if err != nil {
		exitErr("forget", err)
	}
	printJSON(cmd, sup)
}
