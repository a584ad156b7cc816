package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath  string
	serverURL   string
	sessionPath string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:          "cozykost",
	Short:        "Kost listings with synced favorites and viewing history",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	defaultServer := os.Getenv("COZYKOST_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "server configuration file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "cozykost server URL")
	rootCmd.PersistentFlags().StringVar(&sessionPath, "session", "", "session file (default $XDG_CONFIG_HOME/cozykost/session.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "client log level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(kostsCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(newCollectionCmd(favoritesSpec))
	rootCmd.AddCommand(newCollectionCmd(savedSpec))
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(settingsCmd)
}
