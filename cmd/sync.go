// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/logger"
	"github.com/flowkode/hubdir/pkg/reconcile"
	"github.com/flowkode/hubdir/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle and exit",
	Long: `Run exactly one full sync cycle against the hub and print the result.
Useful for bootstrapping an LDAP-backed mirror and for debugging; exits
non-zero when the cycle absorbed any error.`,
	Run: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	f := syncCmd.Flags()
	registerMirrorFlags(f)

	viper.BindPFlags(f)
}

func runSync(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("hubdir", false)
	opts := loadMirrorOpts(cmd)

	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	hubClient, err := opts.hubClient()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid hub configuration")
	}

	store, closeStore, err := opts.openStore()
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open directory store")
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := directory.Bootstrap(ctx, store, opts.RootDN); err != nil {
		logger.Fatal().Err(err).Msg("could not bootstrap base tree")
	}

	engine := reconcile.NewEngine(hubClient, store, reconcile.Config{
		RootDN:      opts.RootDN,
		PageSize:    opts.PageSize,
		SyncSSHKeys: opts.SyncSSHKeys,
	})

	res := engine.RunCycle(ctx)

	fmt.Printf("Groups loaded: %d\n", res.GroupsLoaded)
	fmt.Printf("Users loaded:  %d\n", res.UsersLoaded)
	fmt.Printf("Users purged:  %d\n", res.UsersPurged)
	fmt.Printf("Groups purged: %d\n", res.GroupsPurged)

	if res.Err != nil {
		fmt.Printf("Errors:        %v\n", res.Err)
		os.Exit(1)
	}
}
