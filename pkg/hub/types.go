// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package hub

// Group is a user group as reported by the hub. Immutable; the hub is the
// source of truth.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Email wraps an address inside a user profile.
type Email struct {
	Email string `json:"email"`
}

// Profile carries the contact subset of a hub user profile.
type Profile struct {
	Email *Email `json:"email"`
}

// User is a hub account. Groups holds the transitive closure of the user's
// group memberships, which is what the hub reports under transitiveGroups.
type User struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Login   string   `json:"login"`
	Banned  bool     `json:"banned"`
	Profile *Profile `json:"profile"`
	Groups  []Group  `json:"transitiveGroups"`
}

// EmailAddress returns the user's email, or "" when the profile has none.
func (u *User) EmailAddress() string {
	if u.Profile == nil || u.Profile.Email == nil {
		return ""
	}
	return u.Profile.Email.Email
}

// SSHKey is a public key registered on a hub account.
type SSHKey struct {
	FingerPrint string `json:"fingerPrint"`
	Data        string `json:"data"`
	OpenSSHKey  string `json:"openSshKey"`
	Comment     string `json:"comment"`
}

// Paged list responses. Total may change between pages; callers terminate
// on offset >= total using the most recent page's value.

type UsersPage struct {
	Skip  int    `json:"skip"`
	Top   int    `json:"top"`
	Total int    `json:"total"`
	Users []User `json:"users"`
}

type GroupsPage struct {
	Skip   int     `json:"skip"`
	Top    int     `json:"top"`
	Total  int     `json:"total"`
	Groups []Group `json:"usergroups"`
}

type SSHKeysPage struct {
	Skip  int      `json:"skip"`
	Top   int      `json:"top"`
	Total int      `json:"total"`
	Keys  []SSHKey `json:"sshpublickeys"`
}
