// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Bootstrap seeds the base tree the mirror lives in: the root entry plus
// the ou=Users and ou=Groups containers. Existing entries are left alone
// so a restart never wipes a populated subtree.
func Bootstrap(ctx context.Context, store Store, rootDN string) error {
	parsed, err := ldap.ParseDN(rootDN)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return fmt.Errorf("invalid root DN %q", rootDN)
	}
	rdn := parsed.RDNs[0].Attributes[0]

	rootAttrs := map[string][]string{
		"objectClass": {"top", "domain"},
		rdn.Type:      {rdn.Value},
	}

	if err := ensure(ctx, store, rootDN, rootAttrs); err != nil {
		return err
	}
	if err := ensure(ctx, store, UsersOU(rootDN), ouAttrs("Users")); err != nil {
		return err
	}
	return ensure(ctx, store, GroupsOU(rootDN), ouAttrs("Groups"))
}

func ensure(ctx context.Context, store Store, dn string, attrs map[string][]string) error {
	_, err := store.Get(ctx, dn)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return err
	}
	if err := store.Upsert(ctx, dn, attrs); err != nil {
		return fmt.Errorf("bootstrap %s: %w", dn, err)
	}
	return nil
}

func ouAttrs(name string) map[string][]string {
	return map[string][]string{
		"objectClass": {"top", "organizationalUnit"},
		"ou":          {name},
	}
}
