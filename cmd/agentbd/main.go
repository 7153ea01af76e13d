// Command agentbd is the reference bootstrap binary: it wires a Coordinator
// to a configured LLM provider and store backend and exposes it as both a
// line-by-line interactive chat command and an HTTP server streaming run
// events over SSE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "agentbd",
		Short: "agentb reference coordinator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "agentb.yaml", "path to the config file (YAML or TOML)")

	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
