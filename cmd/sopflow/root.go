package main

import (
	"flag"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/incidentops/sopflow/pkg/config"
)

var (
	cfgFile   string
	serverURL string
	outputFmt string

	// v holds server settings; flags of serve and migrate are bound into it.
	v = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "sopflow",
	Short: "Branching SOP questionnaires for incident response",
	Long: `sopflow runs and manages branching standard-operating-procedure
questionnaires that responders walk through during an incident.

Server commands (serve, migrate) read a config file and SOPFLOW_* environment
variables. Client commands (workflows, answer, health) talk to a running
server over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to a config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "sopflow server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	// glog registers its flags (-v, --log_dir, ...) on the standard flag set
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(healthCmd)
}
