package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/cortex-brain/internal/model"
	"github.com/rcliao/cortex-brain/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [value]",
		Short: "Append a memory",
		Long:  "Append a new version of subject/predicate. The value can be a positional arg or piped via stdin; valid JSON is stored as JSON, anything else as a string.",
		Run:   runPut,
	}

	cmd.Flags().StringP("subject", "s", "", "Subject (required)")
	cmd.Flags().StringP("predicate", "p", "", "Predicate (required)")
	cmd.Flags().String("scope", "global", "Scope: global, tenant, branch")
	cmd.Flags().String("branch", "", "Branch (default: active branch)")

	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("predicate")

	brainCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	scopeStr, _ := cmd.Flags().GetString("scope")
	branch, _ := cmd.Flags().GetString("branch")

	// Get value: positional arg first, then check stdin
	var value string
	if len(args) > 0 {
		value = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			value = string(b)
		}
	}

	if strings.TrimSpace(value) == "" {
		exitErr("put", fmt.Errorf("value is required (positional arg or stdin)"))
	}

	scope, err := model.ParseScope(scopeStr)
	if err != nil {
		exitErr("put", err)
	}

	h := openHandle(cmd, false)
	defer h.Close()

	obj, err := h.Append(store.AppendParams{
		Branch:    branch,
		Subject:   subject,
		Predicate: predicate,
		Value:     model.ValueFromText(strings.TrimSpace(value)),
		Scope:     scope,
	})
	if err != nil {
		exitErr("put", err)
	}

	printJSON(cmd, obj)
}
