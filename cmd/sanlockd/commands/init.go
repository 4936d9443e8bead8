package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanlockd/sanlockd/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a sample sanlockd configuration file with every section
populated from defaults, ready to edit for a new host.

Examples:
  # Initialize at the default location
  sanlockd init

  # Initialize at a custom path
  sanlockd init --config /etc/sanlockd/config.yaml

  # Overwrite an existing file
  sanlockd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.DefaultConfigPath
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit delta_lease/paxos/watchdog timing for your storage and host count")
	fmt.Println("  2. Initialize a lockspace area with: sanlockd direct init --device <path> --lockspace <name>")
	fmt.Printf("  3. Start the daemon with: sanlockd start --config %s --lockspace <name> --host-id <N> --device <path>\n", path)
	return nil
}
