package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script for fieldctl",
	Long: `Print a completion script covering fieldctl's commands and flags
(queue, replay, conn, send, health, config), so that for example
"fieldctl queue <TAB>" offers list and clear.

Load it for the current shell session:

  bash        source <(fieldctl completion bash)
  zsh         source <(fieldctl completion zsh)
  fish        fieldctl completion fish | source
  powershell  fieldctl completion powershell | Out-String | Invoke-Expression

To keep it across sessions, write the output into your shell's completion
directory instead, e.g. fieldctl completion zsh > "${fpath[1]}/_fieldctl".`,
	DisableFlagsInUseLine: true,
	ValidArgs:             completionShells,
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		switch args[0] {
		case "bash":
			return root.GenBashCompletionV2(out, true)
		case "zsh":
			return root.GenZshCompletion(out)
		case "fish":
			return root.GenFishCompletion(out, true)
		case "powershell":
			return root.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
