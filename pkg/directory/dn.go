// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"github.com/go-ldap/ldap/v3"
)

// DN construction for the mirrored tree. Principals live under ou=Users,
// groups under ou=Groups, both directly beneath the configured root.

func UsersOU(rootDN string) string {
	return "ou=Users," + rootDN
}

func GroupsOU(rootDN string) string {
	return "ou=Groups," + rootDN
}

// UserDN returns the DN for a mirrored principal named after the remote
// display name. The name is escaped, not trusted.
func UserDN(rootDN, name string) string {
	return "cn=" + ldap.EscapeDN(name) + "," + UsersOU(rootDN)
}

// GroupDN returns the DN for a mirrored group.
func GroupDN(rootDN, name string) string {
	return "cn=" + ldap.EscapeDN(name) + "," + GroupsOU(rootDN)
}
