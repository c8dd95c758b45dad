// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package roleset models a named signing role: an ordered,
// deduplicated set of keys plus a signature threshold. Every mutation
// is validated at the point it is applied and rejected edits leave
// the set untouched, matching an interactive ceremony where the
// operator sees the effect of each action immediately.
//
// The invariant the package exists to protect: threshold never
// exceeds the number of keys, and is never below one.
package roleset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rootsmith-project/rootsmith/lib/keymat"
)

var (
	// ErrDuplicateKey is returned when adding a key whose id is
	// already present in the set.
	ErrDuplicateKey = errors.New("key id already present in role")

	// ErrInvalidThreshold is returned when a threshold is below one
	// or above the key count.
	ErrInvalidThreshold = errors.New("threshold out of range")

	// ErrInsufficientKeys is returned when removing a key would drop
	// the key count below the current threshold.
	ErrInsufficientKeys = errors.New("removal would leave fewer keys than threshold")

	// ErrUnknownKey is returned when removing or selecting a key that
	// is not in the set.
	ErrUnknownKey = errors.New("key not present in role")
)

// RoleSet is a named role holding keys and a threshold. Keys keep
// insertion order; duplicates (by key id) are rejected.
type RoleSet struct {
	name      string
	keys      []*keymat.Key
	threshold int
}

// New creates a role with the given keys and threshold. The initial
// state must already satisfy the invariant.
func New(name string, keys []*keymat.Key, threshold int) (*RoleSet, error) {
	set := &RoleSet{name: name}
	for _, key := range keys {
		if err := set.Add(key); err != nil {
			return nil, fmt.Errorf("roleset %s: %w", name, err)
		}
	}
	if err := set.SetThreshold(threshold); err != nil {
		return nil, fmt.Errorf("roleset %s: %w", name, err)
	}
	return set, nil
}

// Name returns the role name.
func (r *RoleSet) Name() string { return r.name }

// Threshold returns the current signature threshold.
func (r *RoleSet) Threshold() int { return r.threshold }

// Keys returns the keys in insertion order. The slice is a copy; the
// keys themselves are shared (they are immutable).
func (r *RoleSet) Keys() []*keymat.Key {
	return slices.Clone(r.keys)
}

// KeyIDs returns the key ids in insertion order.
func (r *RoleSet) KeyIDs() []string {
	ids := make([]string, len(r.keys))
	for i, key := range r.keys {
		ids[i] = key.ID
	}
	return ids
}

// Lookup finds a key by id or operator name. Returns ErrUnknownKey if
// no key matches.
func (r *RoleSet) Lookup(idOrName string) (*keymat.Key, error) {
	for _, key := range r.keys {
		if key.ID == idOrName || key.Name == idOrName {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in role %s", ErrUnknownKey, idOrName, r.name)
}

// Contains reports whether a key with the given id is in the set.
func (r *RoleSet) Contains(keyID string) bool {
	for _, key := range r.keys {
		if key.ID == keyID {
			return true
		}
	}
	return false
}

// Add appends a key. Fails with ErrDuplicateKey if a key with the
// same id is already present.
func (r *RoleSet) Add(key *keymat.Key) error {
	if r.Contains(key.ID) {
		return fmt.Errorf("%w: %s (%s)", ErrDuplicateKey, key.Name, key.ID)
	}
	r.keys = append(r.keys, key)
	return nil
}

// Remove deletes the key with the given id. Fails with
// ErrInsufficientKeys if the removal would leave fewer keys than the
// threshold requires, and with ErrUnknownKey if the id is absent.
// A failed removal leaves the set unchanged.
func (r *RoleSet) Remove(keyID string) error {
	index := -1
	for i, key := range r.keys {
		if key.ID == keyID {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("%w: %s in role %s", ErrUnknownKey, keyID, r.name)
	}
	if len(r.keys)-1 < r.threshold {
		return fmt.Errorf("%w: role %s has threshold %d", ErrInsufficientKeys, r.name, r.threshold)
	}
	r.keys = slices.Delete(r.keys, index, index+1)
	return nil
}

// SetThreshold changes the signature threshold. Fails with
// ErrInvalidThreshold unless 1 <= n <= len(keys).
func (r *RoleSet) SetThreshold(n int) error {
	if n < 1 || n > len(r.keys) {
		return fmt.Errorf("%w: %d not in [1, %d] for role %s", ErrInvalidThreshold, n, len(r.keys), r.name)
	}
	r.threshold = n
	return nil
}

// Clone returns an independent copy. The keys are shared (immutable);
// the membership slice and threshold are copied so mutations to the
// clone never touch the original.
func (r *RoleSet) Clone() *RoleSet {
	return &RoleSet{
		name:      r.name,
		keys:      slices.Clone(r.keys),
		threshold: r.threshold,
	}
}

// Satisfied reports whether the given set of signing key ids meets
// this role's threshold. Ids not belonging to the role are ignored.
func (r *RoleSet) Satisfied(signedKeyIDs map[string]bool) bool {
	count := 0
	for _, key := range r.keys {
		if signedKeyIDs[key.ID] {
			count++
		}
	}
	return count >= r.threshold
}

// MissingFor returns the number of further signatures needed to meet
// the threshold given the ids that have already signed.
func (r *RoleSet) MissingFor(signedKeyIDs map[string]bool) int {
	count := 0
	for _, key := range r.keys {
		if signedKeyIDs[key.ID] {
			count++
		}
	}
	if count >= r.threshold {
		return 0
	}
	return r.threshold - count
}
