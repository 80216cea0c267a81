package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/refactory-tech/refactory/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a refactory.yaml with the default configuration to the codebase
root. Edit it to tune risk weights, batch sizing, the test command, and
approval deadlines.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(rootDir, "refactory.yaml")
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	header := []byte("# Refactory configuration. Values left out fall back to these defaults;\n# ${VAR} references in webhook and feature-flag settings expand from the\n# environment.\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printSuccess("wrote " + path)
	printSubtle("set test_runner.command to your project's test command")
	return nil
}
