// Package cli: configuration commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gridlink-labs/gridlink/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management (init, show)",
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())

	return configCmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively create the configuration file",
		Long: `Create ~/.gridlink/config.json by prompting for the cluster address,
user name and remote directory roots. No credentials are stored; the
password is prompted each session (or read from GRIDLINK_PASSWORD).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultPath()
				if err != nil {
					return err
				}
			}

			existing, err := config.Load(path)
			if err != nil {
				return err
			}

			cfg := existing
			if cfg.Host, err = promptLine("Cluster host", existing.Host); err != nil {
				return err
			}
			portStr, err := promptLine("SSH port", strconv.Itoa(existing.Port))
			if err != nil {
				return err
			}
			if cfg.Port, err = strconv.Atoi(portStr); err != nil {
				return fmt.Errorf("invalid port %q", portStr)
			}
			if cfg.Username, err = promptLine("User name", existing.Username); err != nil {
				return err
			}
			if cfg.RemoteProjectRoot, err = promptLine("Remote project root", existing.RemoteProjectRoot); err != nil {
				return err
			}
			if cfg.RemoteScratchRoot, err = promptLine("Remote scratch root", existing.RemoteScratchRoot); err != nil {
				return err
			}
			if cfg.DefaultPartition, err = promptLine("Default partition (optional)", existing.DefaultPartition); err != nil {
				return err
			}
			if cfg.KnownHostsFile, err = promptLine("known_hosts file (optional, empty pins first key)", existing.KnownHostsFile); err != nil {
				return err
			}

			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
	return cmd
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultPath()
				if err != nil {
					return err
				}
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cfg)
			}
			fmt.Printf("Config file: %s\n\n", path)
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	return cmd
}
