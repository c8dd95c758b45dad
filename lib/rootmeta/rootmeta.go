// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package rootmeta models versioned root trust metadata: the signed
// portion naming keys and thresholds for every role, plus the
// signatures collected over it.
//
// A metadata version is immutable once signed; mutation happens by
// building the next version from the current one and running a new
// signing round. Signing and verification both operate on the
// canonical JSON encoding of the signed portion, so a payload signed
// by one implementation verifies under any other.
package rootmeta

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rootsmith-project/rootsmith/lib/keymat"
	"github.com/rootsmith-project/rootsmith/lib/roleset"
)

// Role names. RoleRoot holds the offline ceremony keys; the online
// roles share the repository's single online signing key.
const (
	RoleRoot      = "root"
	RoleTimestamp = "timestamp"
	RoleSnapshot  = "snapshot"
	RoleTargets   = "targets"
)

// OnlineRoles are the roles signed by the repository service itself
// rather than by ceremony operators.
var OnlineRoles = []string{RoleTimestamp, RoleSnapshot, RoleTargets}

// expiresLayout is the timestamp format used in metadata, always UTC.
const expiresLayout = "2006-01-02T15:04:05Z"

// KeyEntry is a public key as registered in the metadata key registry.
type KeyEntry struct {
	KeyType string `json:"keytype"`
	Scheme  string `json:"scheme"`
	KeyVal  KeyVal `json:"keyval"`

	// Name is the operator-facing label. Carried in metadata so a
	// later ceremony can present recognizable choices.
	Name string `json:"name,omitempty"`
}

// KeyVal holds the hex-encoded public key bytes.
type KeyVal struct {
	Public string `json:"public"`
}

// RoleEntry names the keys that may sign a role and how many must.
type RoleEntry struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

// Root is the signed portion of a root metadata version.
type Root struct {
	Type    string               `json:"_type"`
	Version int                  `json:"version"`
	Expires string               `json:"expires"`
	Keys    map[string]KeyEntry  `json:"keys"`
	Roles   map[string]RoleEntry `json:"roles"`
}

// Signature is one collected signature, keyed by the signing key id.
type Signature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// Metadata is a root version: signed portion plus signatures.
type Metadata struct {
	Signed     Root        `json:"signed"`
	Signatures []Signature `json:"signatures"`
}

// NewRoot builds the signed portion of a root version from a root
// role set, the online signing key, a version number, and an expiry.
// The online roles each reference the single online key with
// threshold one.
func NewRoot(version int, expires time.Time, rootRole *roleset.RoleSet, onlineKey *keymat.Key) *Root {
	keys := make(map[string]KeyEntry)
	for _, key := range rootRole.Keys() {
		keys[key.ID] = keyEntry(key)
	}
	keys[onlineKey.ID] = keyEntry(onlineKey)

	roles := map[string]RoleEntry{
		RoleRoot: {
			KeyIDs:    rootRole.KeyIDs(),
			Threshold: rootRole.Threshold(),
		},
	}
	for _, role := range OnlineRoles {
		roles[role] = RoleEntry{KeyIDs: []string{onlineKey.ID}, Threshold: 1}
	}

	return &Root{
		Type:    RoleRoot,
		Version: version,
		Expires: FormatExpiry(expires),
		Keys:    keys,
		Roles:   roles,
	}
}

func keyEntry(key *keymat.Key) KeyEntry {
	return KeyEntry{
		KeyType: key.Scheme,
		Scheme:  key.Scheme,
		KeyVal:  KeyVal{Public: key.PublicHex()},
		Name:    key.Name,
	}
}

// FormatExpiry renders an expiry timestamp in the metadata layout
// (UTC, second precision).
func FormatExpiry(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(expiresLayout)
}

// ParseExpiry parses a metadata expiry timestamp.
func ParseExpiry(s string) (time.Time, error) {
	t, err := time.Parse(expiresLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("rootmeta: parsing expiry %q: %w", s, err)
	}
	return t, nil
}

// SigningPayload returns the canonical JSON encoding of the signed
// portion: the exact bytes every signature covers.
func (r *Root) SigningPayload() ([]byte, error) {
	payload, err := CanonicalJSON(r)
	if err != nil {
		return nil, fmt.Errorf("rootmeta: encoding signing payload: %w", err)
	}
	return payload, nil
}

// Key looks up a registered key entry and reconstructs it as key
// material.
func (r *Root) Key(keyID string) (*keymat.Key, error) {
	entry, ok := r.Keys[keyID]
	if !ok {
		return nil, fmt.Errorf("rootmeta: key %s not in registry", keyID)
	}
	public, err := hex.DecodeString(entry.KeyVal.Public)
	if err != nil {
		return nil, fmt.Errorf("rootmeta: key %s has invalid public hex: %w", keyID, err)
	}
	key, err := keymat.NewFromPublic(public, entry.Name)
	if err != nil {
		return nil, fmt.Errorf("rootmeta: key %s: %w", keyID, err)
	}
	if key.ID != keyID {
		return nil, fmt.Errorf("rootmeta: key registry id %s does not match content-derived id %s", keyID, key.ID)
	}
	return key, nil
}

// RootRole reconstructs the root role as a mutable role set, the
// starting point for a ceremony's edits.
func (r *Root) RootRole() (*roleset.RoleSet, error) {
	entry, ok := r.Roles[RoleRoot]
	if !ok {
		return nil, fmt.Errorf("rootmeta: metadata has no root role")
	}
	keys := make([]*keymat.Key, 0, len(entry.KeyIDs))
	for _, keyID := range entry.KeyIDs {
		key, err := r.Key(keyID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return roleset.New(RoleRoot, keys, entry.Threshold)
}

// OnlineKey returns the key currently registered for the online
// roles. All online roles must reference the same single key.
func (r *Root) OnlineKey() (*keymat.Key, error) {
	var keyID string
	for _, role := range OnlineRoles {
		entry, ok := r.Roles[role]
		if !ok {
			return nil, fmt.Errorf("rootmeta: metadata has no %s role", role)
		}
		if len(entry.KeyIDs) != 1 {
			return nil, fmt.Errorf("rootmeta: %s role references %d keys, want 1", role, len(entry.KeyIDs))
		}
		if keyID == "" {
			keyID = entry.KeyIDs[0]
		} else if entry.KeyIDs[0] != keyID {
			return nil, fmt.Errorf("rootmeta: online roles reference different keys")
		}
	}
	return r.Key(keyID)
}

// Sign signs the metadata with the given key and records the
// signature. The key must carry private material. The produced
// signature is verified against the key before being accepted.
// Signing twice with the same key replaces the earlier signature.
func (m *Metadata) Sign(key *keymat.Key) error {
	if !key.HasSigner() {
		return fmt.Errorf("rootmeta: key %s (%s) cannot sign, no private material loaded", key.Name, key.ID)
	}
	payload, err := m.Signed.SigningPayload()
	if err != nil {
		return err
	}
	signature, err := key.Sign(payload)
	if err != nil {
		return err
	}
	if !key.Verify(payload, signature) {
		return fmt.Errorf("rootmeta: signature by %s failed self-verification", key.ID)
	}

	encoded := Signature{KeyID: key.ID, Sig: hex.EncodeToString(signature)}
	for i, existing := range m.Signatures {
		if existing.KeyID == key.ID {
			m.Signatures[i] = encoded
			return nil
		}
	}
	m.Signatures = append(m.Signatures, encoded)
	return nil
}

// SignedKeyIDs returns the set of key ids with a valid signature over
// the current signed portion. Signatures that fail verification are
// ignored rather than trusted at face value.
func (m *Metadata) SignedKeyIDs() map[string]bool {
	payload, err := m.Signed.SigningPayload()
	if err != nil {
		return nil
	}
	signed := make(map[string]bool)
	for _, signature := range m.Signatures {
		key, err := m.Signed.Key(signature.KeyID)
		if err != nil {
			continue
		}
		raw, err := hex.DecodeString(signature.Sig)
		if err != nil {
			continue
		}
		if key.Verify(payload, raw) {
			signed[signature.KeyID] = true
		}
	}
	return signed
}

// Envelope is the persisted form of a ceremony result:
// {"metadata": {"root": {...}}}.
type Envelope struct {
	Metadata map[string]*Metadata `json:"metadata"`
}

// EncodeEnvelope renders the metadata in its envelope with stable
// 2-space indentation, the format written to local files and posted
// to the management API.
func EncodeEnvelope(m *Metadata) ([]byte, error) {
	envelope := Envelope{Metadata: map[string]*Metadata{RoleRoot: m}}
	encoded, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rootmeta: encoding envelope: %w", err)
	}
	return append(encoded, '\n'), nil
}

// Parse decodes root metadata from either the bare document (as
// served at {version}.root.json) or the envelope form.
func Parse(data []byte) (*Metadata, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err == nil {
		if inner, ok := envelope.Metadata[RoleRoot]; ok && inner != nil {
			return validate(inner)
		}
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("rootmeta: parsing metadata: %w", err)
	}
	return validate(&metadata)
}

func validate(m *Metadata) (*Metadata, error) {
	if m.Signed.Type != RoleRoot {
		return nil, fmt.Errorf("rootmeta: metadata type is %q, want %q", m.Signed.Type, RoleRoot)
	}
	if m.Signed.Version < 1 {
		return nil, fmt.Errorf("rootmeta: version %d is not positive", m.Signed.Version)
	}
	if _, err := ParseExpiry(m.Signed.Expires); err != nil {
		return nil, err
	}
	return m, nil
}
