package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/noahxzhu/timetable-notify/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "timetable",
	Short: "Timetable watcher, chat bot and schedule API",
	Long: `Watches the college students page for new timetable spreadsheets,
notifies subscribed chats about changes and answers schedule lookups.

Running without a subcommand is the same as "timetable serve".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "path to the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(linksCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
