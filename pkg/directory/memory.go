// Copyright 2025 hubdir Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. Reads may run concurrently with the
// reconciliation engine's writes; the RWMutex gives readers a consistent
// view of individual entries, matching the external-store guarantee.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry // normalized DN -> entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// normalizeDN lowercases the DN for map keys. DNs are case-insensitive;
// the original casing is preserved on the stored entry.
func normalizeDN(dn string) string {
	return strings.ToLower(dn)
}

func (s *MemoryStore) Upsert(ctx context.Context, dn string, attrs map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[normalizeDN(dn)] = &Entry{
		DN:         dn,
		Attributes: copyAttributes(attrs),
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, dn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeDN(dn)
	if _, exists := s.entries[key]; !exists {
		return ErrEntryNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, dn string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[normalizeDN(dn)]
	if !exists {
		return nil, ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

func (s *MemoryStore) FindAll(ctx context.Context, objectClass string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*Entry
	for _, entry := range s.entries {
		for _, oc := range entry.Attributes["objectClass"] {
			if strings.EqualFold(oc, objectClass) {
				found = append(found, copyEntry(entry))
				break
			}
		}
	}
	return found, nil
}

func (s *MemoryStore) AppendAttribute(ctx context.Context, dn, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[normalizeDN(dn)]
	if !exists {
		return ErrEntryNotFound
	}
	entry.Attributes[name] = append(entry.Attributes[name], value)
	return nil
}

// Dump returns a copy of the whole tree keyed by DN. Intended for tests
// and debugging.
func (s *MemoryStore) Dump() map[string]map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dump := make(map[string]map[string][]string, len(s.entries))
	for _, entry := range s.entries {
		dump[entry.DN] = copyAttributes(entry.Attributes)
	}
	return dump
}

func copyAttributes(attrs map[string][]string) map[string][]string {
	copied := make(map[string][]string, len(attrs))
	for name, values := range attrs {
		copied[name] = append([]string(nil), values...)
	}
	return copied
}

func copyEntry(entry *Entry) *Entry {
	return &Entry{
		DN:         entry.DN,
		Attributes: copyAttributes(entry.Attributes),
	}
}
