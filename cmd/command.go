// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/flowkode/hubdir/pkg/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hubdir",
	Short: "hubdir - LDAP mirror of a remote identity hub",
	Long: `hubdir keeps an LDAP-style directory tree in sync with a remote identity
hub and delegates bind authentication to it. The directory is a mirror,
not a system of record: entries are replaced wholesale on every sync
cycle and no credential is ever stored locally.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
