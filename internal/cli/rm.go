package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:     "delete [brain]",
		Aliases: []string{"rm"},
		Short:   "Delete a brain directory (irreversible)",
		Args:    cobra.ExactArgs(1),
		Run:     runDelete,
	}

	cmd.Flags().Bool("yes", false, "Confirm deletion (required)")

	brainCmd.AddCommand(cmd)
}

func runDelete(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("delete", fmt.Errorf("refusing to delete without --yes"))
	}

	s := openBrainStore()
	id, err := s.Resolve(args[0])
	if err != nil {
		exitErr("delete", err)
	}
	if err := s.Delete(cmd.Context(), id); err != nil {
		exitErr("delete", err)
	}

	r := openRegistry()
	defer r.Close()
	if err := r.ForgetBrain(cmd.Context(), id); err != nil {
		exitErr("delete", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"brain_id":%q}`+"\n", id)
}
