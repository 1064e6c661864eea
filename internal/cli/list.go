package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List the heads of all keys visible on a branch",
		Run:   runKeys,
	}

	cmd.Flags().String("branch", "", "Branch (default: active branch)")
	cmd.Flags().StringP("subject", "s", "", "Filter by subject")
	cmd.Flags().String("class", "", "Filter by predicate class")
	cmd.Flags().Bool("include-suppressed", false, "Include suppressed heads")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0 = all)")
	cmd.Flags().Bool("keys-only", false, "Only output subject/predicate pairs")

	brainCmd.AddCommand(cmd)
}

func runKeys(cmd *cobra.Command, args []string) {
	branch, _ := cmd.Flags().GetString("branch")
	subject, _ := cmd.Flags().GetString("subject")
	class, _ := cmd.Flags().GetString("class")
	includeSuppressed, _ := cmd.Flags().GetBool("include-suppressed")
	limit, _ := cmd.Flags().GetInt("limit")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	h := openHandle(cmd, true)
	defer h.Close()

	objs, err := h.List(store.ListParams{
		Branch:            branch,
		Subject:           subject,
		Class:             class,
		IncludeSuppressed: includeSuppressed,
		Limit:             limit,
	})
	if err != nil {
		exitErr("keys", err)
	}

	if keysOnly {
		for _, o := range objs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", o.Subject, o.Predicate)
		}
		return
	}
	printJSON(cmd, objs)
}
