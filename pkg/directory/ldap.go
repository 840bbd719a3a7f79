// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAPConfig configures the LDAP-backed store.
type LDAPConfig struct {
	// URL of the directory server, ldap://host:389 or ldaps://host:636.
	URL string

	// Admin identity used for all mirror writes.
	BindDN       string
	BindPassword string

	// RootDN is the suffix the mirrored tree lives under, e.g. dc=hub.
	RootDN string

	// Timeout applies to dialing and to each request. Defaults to 10s.
	Timeout time.Duration

	// PageSize for subtree searches. Defaults to 500.
	PageSize uint32
}

// LDAPStore materializes the mirror inside an external LDAP server. The
// replace-by-delete-then-add in Upsert briefly exposes an absence window
// to concurrent readers; the engine's no-overlap scheduling keeps writes
// serialized.
type LDAPStore struct {
	conn   *ldap.Conn
	config LDAPConfig
}

// NewLDAPStore connects and binds with the admin identity.
func NewLDAPStore(cfg LDAPConfig) (*LDAPStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("LDAP server URL is required")
	}
	if cfg.RootDN == "" {
		return nil, errors.New("LDAP root DN is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 500
	}

	conn, err := ldap.DialURL(cfg.URL, ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	conn.SetTimeout(cfg.Timeout)

	if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind as %s: %w", cfg.BindDN, err)
	}

	return &LDAPStore{conn: conn, config: cfg}, nil
}

func (s *LDAPStore) Close() error {
	return s.conn.Close()
}

func (s *LDAPStore) Upsert(ctx context.Context, dn string, attrs map[string][]string) error {
	// The server has no replace-entry operation; delete then add.
	if err := s.Delete(ctx, dn); err != nil && !errors.Is(err, ErrEntryNotFound) {
		return err
	}

	add := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		add.Attribute(name, values)
	}
	if err := s.conn.Add(add); err != nil {
		return fmt.Errorf("add %s: %w", dn, err)
	}
	return nil
}

func (s *LDAPStore) Delete(ctx context.Context, dn string) error {
	if err := s.conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return ErrEntryNotFound
		}
		return fmt.Errorf("delete %s: %w", dn, err)
	}
	return nil
}

func (s *LDAPStore) Get(ctx context.Context, dn string) (*Entry, error) {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)",
		nil, nil,
	)

	res, err := s.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("search %s: %w", dn, err)
	}
	if len(res.Entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return fromLDAPEntry(res.Entries[0]), nil
}

func (s *LDAPStore) FindAll(ctx context.Context, objectClass string) ([]*Entry, error) {
	req := ldap.NewSearchRequest(
		s.config.RootDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(objectClass=%s)", ldap.EscapeFilter(objectClass)),
		nil, nil,
	)

	res, err := s.conn.SearchWithPaging(req, s.config.PageSize)
	if err != nil {
		return nil, fmt.Errorf("search subtree %s: %w", s.config.RootDN, err)
	}

	entries := make([]*Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		entries = append(entries, fromLDAPEntry(e))
	}
	return entries, nil
}

func (s *LDAPStore) AppendAttribute(ctx context.Context, dn, name, value string) error {
	mod := ldap.NewModifyRequest(dn, nil)
	mod.Add(name, []string{value})

	if err := s.conn.Modify(mod); err != nil {
		switch {
		case ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists):
			// Duplicate membership entries are tolerated.
			return nil
		case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
			return ErrEntryNotFound
		}
		return fmt.Errorf("modify %s: %w", dn, err)
	}
	return nil
}

func fromLDAPEntry(e *ldap.Entry) *Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = append([]string(nil), a.Values...)
	}
	return &Entry{DN: e.DN, Attributes: attrs}
}
