// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"time"

	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/hub"
	"github.com/flowkode/hubdir/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// MirrorOpts holds the configuration shared by every command that talks
// to the hub or the directory store.
type MirrorOpts struct {
	HubURL        string
	ServiceID     string
	ServiceSecret string
	Scope         string
	HubTimeout    time.Duration
	HubRPS        float64

	RootDN      string
	PageSize    int
	SyncSSHKeys bool

	// When LDAPURL is empty the mirror lives in process memory.
	LDAPURL      string
	LDAPBindDN   string
	LDAPBindPass string
	LDAPTimeout  time.Duration

	LogLevel string
}

func registerMirrorFlags(f *pflag.FlagSet) {
	f.String("hub_url", "", "Base URL of the identity hub (e.g. https://hub.example.com)")
	f.String("service_id", "", "Service id used against the hub (or set SERVICE_ID)")
	f.String("service_secret", "", "Service secret used against the hub (or set SERVICE_SECRET)")
	f.String("scope", hub.DefaultScope, "OAuth2 scope requested on hub token grants")
	f.Duration("hub_timeout", 10*time.Second, "Per-call timeout for hub requests")
	f.Float64("hub_rps", 10, "Request rate cap against the hub, per second")

	f.String("root_dn", "dc=hub", "Root DN of the mirrored tree")
	f.Int("page_size", 10, "Page size for hub list endpoints")
	f.Bool("ssh_keys", false, "Mirror users' SSH public keys (one extra hub call per user)")

	f.String("ldap_url", "", "LDAP server to materialize the mirror in (ldap://host:389); empty keeps it in memory")
	f.String("ldap_bind_dn", "", "Admin bind DN for the LDAP server")
	f.String("ldap_bind_pass", "", "Admin bind password for the LDAP server")
	f.Duration("ldap_timeout", 10*time.Second, "LDAP connection and request timeout")

	f.String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
}

func loadMirrorOpts(cmd *cobra.Command) MirrorOpts {
	f := NewFlagLoader(cmd)
	return MirrorOpts{
		HubURL:        f.String("hub_url"),
		ServiceID:     f.String("service_id"),
		ServiceSecret: f.String("service_secret"),
		Scope:         f.String("scope"),
		HubTimeout:    f.Duration("hub_timeout"),
		HubRPS:        f.Float64("hub_rps"),
		RootDN:        f.String("root_dn"),
		PageSize:      f.Int("page_size"),
		SyncSSHKeys:   f.Bool("ssh_keys"),
		LDAPURL:       f.String("ldap_url"),
		LDAPBindDN:    f.String("ldap_bind_dn"),
		LDAPBindPass:  f.String("ldap_bind_pass"),
		LDAPTimeout:   f.Duration("ldap_timeout"),
		LogLevel:      f.String("log_level"),
	}
}

func (o MirrorOpts) hubClient() (*hub.HTTPClient, error) {
	return hub.NewClient(hub.Config{
		BaseURL:           o.HubURL,
		ServiceID:         o.ServiceID,
		ServiceSecret:     o.ServiceSecret,
		Scope:             o.Scope,
		Timeout:           o.HubTimeout,
		RequestsPerSecond: o.HubRPS,
	})
}

// openStore returns the configured directory store and a close function.
func (o MirrorOpts) openStore() (directory.Store, func(), error) {
	if o.LDAPURL == "" {
		logger.Info().Msg("no ldap_url configured, mirroring into memory")
		return directory.NewMemoryStore(), func() {}, nil
	}

	store, err := directory.NewLDAPStore(directory.LDAPConfig{
		URL:          o.LDAPURL,
		BindDN:       o.LDAPBindDN,
		BindPassword: o.LDAPBindPass,
		RootDN:       o.RootDN,
		Timeout:      o.LDAPTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("url", o.LDAPURL).Str("root_dn", o.RootDN).Msg("mirroring into LDAP server")
	return store, func() { store.Close() }, nil
}
