package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/activitylogger/internal/activity"
)

// eventNames are offered when completing `activityctl send <event>`.
var eventNames = []string{
	activity.EventLogin, activity.EventFailed, activity.EventLogout,
	activity.EventModelCreated, activity.EventModelUpdated, activity.EventModelDeleted,
	activity.EventModelRestored, activity.EventModelForceDeleted,
	activity.EventRequest,
	activity.EventRecordCreated, activity.EventRecordUpdated, activity.EventRecordDeleted,
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion for activityctl",
	Long: `Generate a completion script for activityctl.

Besides subcommands and flags, the script completes the activity event
names accepted by "activityctl send" (auth.login, model_created,
request_activity and the rest) and the principal type set in the
configured jwt section for "activityctl token --type".

Bash:

  $ source <(activityctl completion bash)

Zsh:

  $ activityctl completion zsh > "${fpath[1]}/_activityctl"

fish:

  $ activityctl completion fish | source

PowerShell:

  PS> activityctl completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
	},
}

func completeEventNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, name := range eventNames {
		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// completePrincipalTypes offers the configured default principal type. A
// missing or invalid config yields no candidates rather than an error.
func completePrincipalTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	if t := cfg.JWT.PrincipalType; t != "" && strings.HasPrefix(t, toComplete) {
		out = append(out, t)
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)
	sendCmd.ValidArgsFunction = completeEventNames
}
