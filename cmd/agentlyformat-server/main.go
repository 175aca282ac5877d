// Command agentlyformat-server is the demo HTTP/WebSocket edge around
// the agentlyformat core: it owns routing, wire translation, and an
// optional crash-recovery cache — the core package itself never touches
// a socket or a disk (spec §1 Non-goals).
//
// Command layout is grounded on the teacher's cmd/aleutian: a single
// rootCmd with subcommands registered in init(), each subcommand's flags
// declared beside it (cli_commands.go).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentlyformat-server",
	Short: "Streaming JSON completion, diff, and event-bus demo server",
	Long:  "agentlyformat-server exposes the agentlyformat core over HTTP chunk ingress and a WebSocket event egress, for demoing streaming-JSON repair and structural diffing against an LLM-style producer.",
}

func init() {
	rootCmd.AddCommand(serveCmd, completeCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}
