// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package delegation implements succinct hash-bin delegation: the
// target namespace is partitioned into 2^B fixed bins by a
// deterministic hash of the target path, so the repository needs one
// delegation entry per bin instead of one per target.
//
// Determinism is load-bearing. Two import runs over overlapping path
// sets must assign a given path to the same bin, or verification of
// previously published metadata would silently diverge. The mapping
// is therefore a pure function of (path, bit length): SHA-256 the
// path, take the big-endian value of the first four digest bytes, and
// keep the top B bits as the bin number.
package delegation

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MinBitLength and MaxBitLength bound the bin count between 2 and
// 2^32. The bin number is carved from a 32-bit prefix of the digest,
// which caps the bit length at 32.
const (
	MinBitLength = 1
	MaxBitLength = 32
)

// SuccinctBins describes one repository generation's bin layout.
// Immutable for the generation's lifetime: changing BitLength
// requires a full re-delegation, which is out of scope here.
type SuccinctBins struct {
	// NamePrefix is the delegation name prefix; bin rolenames are
	// "<prefix>-<hex ordinal>".
	NamePrefix string `json:"name_prefix"`

	// BitLength B defines 2^B bins.
	BitLength int `json:"bit_length"`
}

// New validates the configuration and returns the bin layout.
func New(namePrefix string, bitLength int) (*SuccinctBins, error) {
	if namePrefix == "" {
		return nil, fmt.Errorf("delegation: name prefix is required")
	}
	if bitLength < MinBitLength || bitLength > MaxBitLength {
		return nil, fmt.Errorf("delegation: bit length %d not in [%d, %d]", bitLength, MinBitLength, MaxBitLength)
	}
	return &SuccinctBins{NamePrefix: namePrefix, BitLength: bitLength}, nil
}

// NumBins returns the number of bins, 2^BitLength.
func (s *SuccinctBins) NumBins() uint64 {
	return 1 << uint(s.BitLength)
}

// suffixWidth is the fixed hex width of the bin ordinal: wide enough
// for the highest bin number, zero-padded so all rolenames align.
func (s *SuccinctBins) suffixWidth() int {
	return len(fmt.Sprintf("%x", s.NumBins()-1))
}

// RoleForTarget maps a target path to its bin rolename. Pure and
// deterministic: equal inputs always produce equal rolenames.
func (s *SuccinctBins) RoleForTarget(path string) string {
	digest := sha256.Sum256([]byte(path))
	prefix := binary.BigEndian.Uint32(digest[:4])
	bin := uint64(prefix >> (32 - uint(s.BitLength)))
	return s.roleName(bin)
}

func (s *SuccinctBins) roleName(bin uint64) string {
	return fmt.Sprintf("%s-%0*x", s.NamePrefix, s.suffixWidth(), bin)
}

// Roles returns all 2^BitLength bin rolenames in ordinal order. With
// large bit lengths this is a big slice; callers enumerating bins for
// display should keep BitLength modest.
func (s *SuccinctBins) Roles() []string {
	roles := make([]string, s.NumBins())
	for bin := uint64(0); bin < s.NumBins(); bin++ {
		roles[bin] = s.roleName(bin)
	}
	return roles
}

// Document is the delegations description emitted by the delegations
// workflow: {"delegations": {...}}.
type Document struct {
	Delegations DocumentBody `json:"delegations"`
}

// DocumentBody carries the bin layout and the enumerated bin roles.
type DocumentBody struct {
	SuccinctRoles SuccinctBins `json:"succinct_roles"`
	BinRoles      []string     `json:"bin_roles"`
}

// Encode renders the delegations document with stable 2-space
// indentation for local persistence or API submission.
func (s *SuccinctBins) Encode() ([]byte, error) {
	document := Document{
		Delegations: DocumentBody{
			SuccinctRoles: *s,
			BinRoles:      s.Roles(),
		},
	}
	encoded, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("delegation: encoding document: %w", err)
	}
	return append(encoded, '\n'), nil
}

// ParseTargetsMetadata extracts the succinct bin layout from targets
// metadata as served at {version}.bin.json. Only the delegation
// parameters are read; the rest of the document belongs to the
// repository service.
func ParseTargetsMetadata(data []byte) (*SuccinctBins, error) {
	var document struct {
		Signed struct {
			Delegations struct {
				SuccinctRoles struct {
					NamePrefix string `json:"name_prefix"`
					BitLength  int    `json:"bit_length"`
				} `json:"succinct_roles"`
			} `json:"delegations"`
		} `json:"signed"`
	}
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("delegation: parsing targets metadata: %w", err)
	}
	succinct := document.Signed.Delegations.SuccinctRoles
	if succinct.NamePrefix == "" && succinct.BitLength == 0 {
		return nil, fmt.Errorf("delegation: targets metadata carries no succinct delegation")
	}
	return New(succinct.NamePrefix, succinct.BitLength)
}
