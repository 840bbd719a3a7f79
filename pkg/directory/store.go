// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

// Package directory abstracts the mirrored principal/group tree.
//
// Entries are addressed by DN and carry multi-valued attributes. The store
// has no native update: Upsert replaces the whole entry (delete then add),
// which is the only mutation primitive the reconciliation engine needs.
// Two implementations exist: an in-memory tree used by tests and
// single-process deployments, and an LDAP-backed store that materializes
// the mirror inside an external directory server.
package directory

import (
	"context"
	"errors"
)

var ErrEntryNotFound = errors.New("entry not found")

// Entry is a directory entry: a DN plus multi-valued attributes.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// First returns the first value of the named attribute, or "" when absent.
func (e *Entry) First(name string) string {
	values := e.Attributes[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Store is the capability surface consumed by the reconciliation engine
// (writes) and the authentication bridge (reads).
type Store interface {
	// Upsert writes the entry at dn with exactly attrs, replacing any
	// existing entry. Full attribute replacement, not a merge.
	Upsert(ctx context.Context, dn string, attrs map[string][]string) error

	// Delete removes the entry at dn. Returns ErrEntryNotFound when absent.
	Delete(ctx context.Context, dn string) error

	// Get returns the entry at dn, or ErrEntryNotFound.
	Get(ctx context.Context, dn string) (*Entry, error)

	// FindAll returns every entry whose objectClass contains the given value.
	FindAll(ctx context.Context, objectClass string) ([]*Entry, error)

	// AppendAttribute adds a value to an attribute of an existing entry.
	// Appending a value that is already present is not an error.
	AppendAttribute(ctx context.Context, dn, name, value string) error
}
