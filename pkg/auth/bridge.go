// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth delegates directory binds to the hub.
//
// No credential is ever stored or compared locally: the bridge extracts
// the login from the bind DN and asks the hub to verify the password.
// Every failure collapses into ErrDenied so the bind channel cannot be
// used to probe whether the hub is reachable; the underlying cause is
// still logged.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flowkode/hubdir/pkg/directory"
	"github.com/flowkode/hubdir/pkg/hub"
	"github.com/flowkode/hubdir/pkg/logger"

	"github.com/go-ldap/ldap/v3"
)

// ErrDenied is the single failure outcome of Authenticate. Callers must
// not surface anything more specific to the protocol peer.
var ErrDenied = errors.New("authentication denied")

// AuthLevelSimple is the authentication level granted to approved binds.
const AuthLevelSimple = "simple"

// Principal identifies an approved bind.
type Principal struct {
	DN    string
	Login string
	Level string
}

// Bridge is the authentication callback registered with the protocol
// engine. It reads the directory store (never writes) and may be called
// concurrently with an in-progress sync cycle.
type Bridge struct {
	hub   hub.Client
	store directory.Store
}

// NewBridge returns a bridge. store may be nil; it is only consulted to
// resolve a cn-keyed bind DN to the login held in the entry's uid
// attribute.
func NewBridge(hubClient hub.Client, store directory.Store) *Bridge {
	return &Bridge{
		hub:   hubClient,
		store: store,
	}
}

// Authenticate maps a bind attempt to a hub credential check.
func (b *Bridge) Authenticate(ctx context.Context, bindDN, password string) (*Principal, error) {
	log := logger.Ctx(ctx)

	if password == "" {
		// Anonymous binds are the protocol engine's business, not ours.
		authBinds.WithLabelValues("denied").Inc()
		return nil, ErrDenied
	}

	login, err := b.resolveLogin(ctx, bindDN)
	if err != nil {
		log.Warn().Err(err).Str("bind_dn", bindDN).Msg("bind denied, could not resolve login")
		authBinds.WithLabelValues("denied").Inc()
		return nil, ErrDenied
	}

	if err := b.hub.CheckCredentials(ctx, login, password); err != nil {
		// Bad password, hub unreachable and malformed responses all land
		// here; the distinction stays in the logs.
		log.Warn().Err(err).Str("login", login).Msg("bind denied by hub")
		authBinds.WithLabelValues("denied").Inc()
		return nil, ErrDenied
	}

	log.Debug().Str("login", login).Str("bind_dn", bindDN).Msg("bind approved")
	authBinds.WithLabelValues("approved").Inc()

	return &Principal{
		DN:    bindDN,
		Login: login,
		Level: AuthLevelSimple,
	}, nil
}

// resolveLogin extracts the hub login from the bind identity. A uid-keyed
// DN answers directly. For cn-keyed DNs the mirrored entry's uid attribute
// is authoritative when available, since display names and logins differ;
// without a store entry the RDN value is used as-is.
func (b *Bridge) resolveLogin(ctx context.Context, bindDN string) (string, error) {
	parsed, err := ldap.ParseDN(bindDN)
	if err != nil {
		return "", fmt.Errorf("parse bind DN: %w", err)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("bind DN %q has no naming attribute", bindDN)
	}

	rdn := parsed.RDNs[0].Attributes[0]
	if rdn.Value == "" {
		return "", fmt.Errorf("bind DN %q has an empty naming value", bindDN)
	}
	if strings.EqualFold(rdn.Type, "uid") {
		return rdn.Value, nil
	}

	if b.store != nil {
		entry, err := b.store.Get(ctx, bindDN)
		if err == nil {
			if uid := entry.First("uid"); uid != "" {
				return uid, nil
			}
		} else if !errors.Is(err, directory.ErrEntryNotFound) {
			return "", fmt.Errorf("lookup bind DN: %w", err)
		}
	}

	return rdn.Value, nil
}
