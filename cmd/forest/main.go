// Forest runs the control plane roles (branch, druid, air) of one node.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/forest/internal/app"
	"github.com/MrSnakeDoc/forest/internal/config"
	"github.com/MrSnakeDoc/forest/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forest",
	Short: "Forest - uWSGI based application platform",
	Long: `Forest supervises uWSGI applications across a set of hosts.

Each node runs one or more roles, selected with FOREST_ROLES:
  branch  builds species and runs leaves under the local emperor
  air     runs the fastrouter that publishes leaf domains
  druid   keeps the registry and drives branches and air

Configuration is read from the environment (FOREST_*), peers and
logger sinks from the YAML file named by FOREST_TOPOLOGY_FILE.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runNode,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the configured roles and the control API",
	RunE:  runNode,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the environment and the topology file",
	Long: `Load the configuration exactly as run would, print it with secrets
redacted, and validate the topology file. Nothing is started.`,
	RunE: runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("❌ forest failed to start: %w", err)
	}
	if err := a.Run(); err != nil {
		return fmt.Errorf("❌ forest stopped with error: %w", err)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	topo, err := config.LoadTopology(cfg.TopologyFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config:   %+v\n", cfg.Redacted())
	fmt.Fprintf(out, "topology: %d branch, %d air, %d roots, %d loggers\n",
		len(topo.Branch), len(topo.Air), len(topo.Roots), len(topo.Loggers))
	fmt.Fprintln(out, "✅ configuration is valid")
	return nil
}

// loadConfig turns the fatal panics of config.Load into an error.
func loadConfig() (cfg *config.Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return config.Load(), nil
}
