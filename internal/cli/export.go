package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the brain as a signed, encrypted package",
		Long:  "Write the committed brain to a single JSON package. The package stays encrypted; import it elsewhere with the same passphrase.",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}

	brainCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	h := openHandle(cmd, false)
	defer h.Close()

	sum, err := h.Export(args[0])
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "path": args[0], "brain": sum})
}
