// heartflow runs the group chat engagement bot.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

const appName = "heartflow"

var (
	// set with -ldflags "-X main.version=..."
	version = "dev"
	commit  = ""

	envFiles []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Group chat engagement engine for Discord",
		Long: `heartflow decides when a bot speaks in group chats: it answers mentions,
keeps short follow-up conversations going, scores ordinary messages for
willingness to reply and now and then speaks up on its own when a
conversation is lively.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if commit != "" {
				v += " (" + commit + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s/%s %s\n", appName, v, runtime.GOOS, runtime.GOARCH, runtime.Version())
		},
	}
}
