package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/cartsync/internal/config"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage the local cart store",
}

var stateMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy saved cart, session and login to another backend",
	Example: `  cartsync state migrate --to sqlite
  cartsync --backend sqlite cart show`,
	RunE: runStateMigrate,
}

var stateKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys in the local store",
	RunE:  runStateKeys,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write configuration",
}

var configShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Print the effective configuration",
	Annotations: map[string]string{"offline": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		safe := *cfg
		if safe.Auth.Password != "" {
			safe.Auth.Password = "********"
		}
		printJSON(safe)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:         "init <path>",
	Short:       "Write an example configuration file",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"offline": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExample(args[0]); err != nil {
			return err
		}
		if !jsonOutput {
			printSuccess("Wrote %s", args[0])
		}
		return nil
	},
}

var migrateTo string

func init() {
	rootCmd.AddCommand(stateCmd, configCmd)
	stateCmd.AddCommand(stateMigrateCmd, stateKeysCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)

	stateMigrateCmd.Flags().StringVar(&migrateTo, "to", "", "Target backend: json or sqlite (required)")
	_ = stateMigrateCmd.MarkFlagRequired("to")
}

func runStateMigrate(cmd *cobra.Command, args []string) error {
	if migrateTo == cfg.Storage.Backend {
		return fmt.Errorf("state already uses the %s backend", migrateTo)
	}

	if err := apiClient.MigrateState(migrateTo); err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{"success": true, "backend": migrateTo})
		return nil
	}
	printSuccess("Copied local state to %s", migrateTo)
	printInfo("Set storage.backend to %q to use it", migrateTo)
	return nil
}

func runStateKeys(cmd *cobra.Command, args []string) error {
	keys, err := apiClient.State.List()
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(keys)
		return nil
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}
