// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/flowkode/hubdir/pkg/auth"
	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/logger"
	"github.com/flowkode/hubdir/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check a bind against the hub",
	Long: `Exercise the authentication bridge from the command line: resolve the
bind identity and delegate the credential check to the hub, exactly as a
directory bind would. Exits 0 on approval, 1 on denial.`,
	Run: runAuth,
}

func init() {
	rootCmd.AddCommand(authCmd)

	f := authCmd.Flags()
	registerMirrorFlags(f)
	f.String("bind_dn", "", "Bind DN to authenticate as (e.g. uid=alice,ou=Users,dc=hub)")
	f.String("login", "", "Hub login; shorthand that builds a uid-keyed bind DN under root_dn")
	f.String("password", "", "Credential to check (testing only; prefer the hub's own tooling for real checks)")

	viper.BindPFlags(f)
}

func runAuth(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("hubdir", false)
	opts := loadMirrorOpts(cmd)
	f := NewFlagLoader(cmd)
	bindDN := f.String("bind_dn")
	login := f.String("login")
	password := f.String("password")

	if level, err := zerolog.ParseLevel(opts.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	if bindDN == "" && login != "" {
		bindDN = "uid=" + login + "," + directory.UsersOU(opts.RootDN)
	}
	if bindDN == "" || password == "" {
		logger.Fatal().Msg("either --bind_dn or --login is required, and --password")
	}

	hubClient, err := opts.hubClient()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid hub configuration")
	}

	// A cn-keyed bind DN resolves through the mirrored entry's uid
	// attribute, so consult the LDAP store when one is configured.
	var store directory.Store
	if opts.LDAPURL != "" {
		ldapStore, _, err := opts.openStore()
		if err != nil {
			logger.Fatal().Err(err).Msg("could not open directory store")
		}
		store = ldapStore
	}

	bridge := auth.NewBridge(hubClient, store)

	principal, err := bridge.Authenticate(cmd.Context(), bindDN, password)
	if err != nil {
		fmt.Println("Denied")
		os.Exit(1)
	}
	fmt.Printf("Approved: %s (login %s, level %s)\n", principal.DN, principal.Login, principal.Level)
}
