package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <server-url> <user-id> <token>",
	Short: "Store the server URL and credential for later commands",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Default.ServerURL = args[0]
		cfg.Auth.UserID = args[1]
		cfg.Auth.Token = args[2]
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s against %s\n", cfg.Auth.UserID, cfg.Default.ServerURL)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage alumnictl configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No configuration file found. Run 'alumnictl login' first.")
				return nil
			}
			return fmt.Errorf("cannot read config file: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}
