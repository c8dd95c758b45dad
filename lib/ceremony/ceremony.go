// Copyright 2026 The Rootsmith Authors
// SPDX-License-Identifier: Apache-2.0

// Package ceremony drives the interactive root metadata update: edit
// the root role's keys and threshold, optionally rotate the online
// key, then collect signatures until both the outgoing and the
// incoming trust anchors are satisfied.
//
// The rotation rule is the whole point of the package. A new root
// version must be signed to the threshold of the OLD root role and to
// the threshold of the NEW root role, so neither the departing nor the
// arriving key holders can be bypassed. A key present in both roles
// counts toward both thresholds with a single signature.
//
// A ceremony does not have to finish in one sitting. Stopping before
// the thresholds are met yields a pending result carrying every
// signature collected so far; the next holder resumes from the saved
// file.
package ceremony

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rootsmith-project/rootsmith/lib/clock"
	"github.com/rootsmith-project/rootsmith/lib/keymat"
	"github.com/rootsmith-project/rootsmith/lib/roleset"
	"github.com/rootsmith-project/rootsmith/lib/rootmeta"
	"github.com/rootsmith-project/rootsmith/lib/secret"
)

// Prompter is the operator dialogue. The terminal implementation lives
// in the command layer; tests drive ceremonies with a scripted one.
type Prompter interface {
	// Select presents options and returns the chosen index.
	Select(prompt string, options []string) (int, error)

	// Input asks for a line of text. An empty answer yields the
	// default value.
	Input(prompt, defaultValue string) (string, error)

	// Confirm asks a yes/no question.
	Confirm(prompt string, defaultYes bool) (bool, error)

	// Password reads a passphrase without echo. The caller owns the
	// returned buffer and must Close it.
	Password(prompt string) (*secret.Buffer, error)

	// Show displays a message to the operator.
	Show(message string)
}

// Result is a finished or suspended ceremony.
type Result struct {
	// Metadata is the new root version with every collected signature.
	Metadata *rootmeta.Metadata

	// Pending is true when at least one threshold is still unmet. A
	// pending result is saved for the next signer, never submitted.
	Pending bool

	// MissingOld and MissingNew count the further signatures needed
	// for the outgoing and incoming root roles. Both zero when the
	// ceremony is complete.
	MissingOld int
	MissingNew int
}

// Config holds a ceremony's collaborators.
type Config struct {
	// Prompter carries the operator dialogue. Required.
	Prompter Prompter

	// Clock supplies the current time for expiry computation. If nil,
	// the real clock.
	Clock clock.Clock

	// Logger receives progress messages. If nil, a no-op logger.
	Logger *slog.Logger
}

// Ceremony runs root update ceremonies.
type Ceremony struct {
	prompter Prompter
	clock    clock.Clock
	logger   *slog.Logger
}

// New validates the configuration and creates a ceremony runner.
func New(cfg Config) (*Ceremony, error) {
	if cfg.Prompter == nil {
		return nil, errors.New("ceremony: Prompter is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ceremony{prompter: cfg.Prompter, clock: clk, logger: logger}, nil
}

// Run executes a full update ceremony against the current trusted root
// metadata and returns the (possibly pending) new version.
func (c *Ceremony) Run(current *rootmeta.Metadata) (*Result, error) {
	if current == nil {
		return nil, errors.New("ceremony: current root metadata is required")
	}

	oldRole, err := current.Signed.RootRole()
	if err != nil {
		return nil, err
	}

	c.prompter.Show(fmt.Sprintf("Updating root metadata from version %d.", current.Signed.Version))

	expires, err := c.promptExpiry(current.Signed.Expires)
	if err != nil {
		return nil, err
	}

	newRole, err := c.editRootRole(oldRole.Clone())
	if err != nil {
		return nil, err
	}

	onlineKey, err := c.promptOnlineKey(current)
	if err != nil {
		return nil, err
	}

	metadata := &rootmeta.Metadata{
		Signed: *rootmeta.NewRoot(current.Signed.Version+1, expires, newRole, onlineKey),
	}
	c.logger.Info("new root version prepared",
		"version", metadata.Signed.Version,
		"root_keys", len(newRole.Keys()),
		"root_threshold", newRole.Threshold())

	return c.collectSignatures(metadata, oldRole, newRole)
}

// Resume continues collecting signatures on a previously saved pending
// version. The old role comes from the trusted metadata the pending
// version supersedes.
func (c *Ceremony) Resume(pending, trusted *rootmeta.Metadata) (*Result, error) {
	if pending == nil || trusted == nil {
		return nil, errors.New("ceremony: both pending and trusted metadata are required")
	}
	if pending.Signed.Version != trusted.Signed.Version+1 {
		return nil, fmt.Errorf("ceremony: pending version %d does not follow trusted version %d",
			pending.Signed.Version, trusted.Signed.Version)
	}

	oldRole, err := trusted.Signed.RootRole()
	if err != nil {
		return nil, err
	}
	newRole, err := pending.Signed.RootRole()
	if err != nil {
		return nil, err
	}

	c.prompter.Show(fmt.Sprintf("Resuming signature collection for root version %d.", pending.Signed.Version))
	return c.collectSignatures(pending, oldRole, newRole)
}

// promptExpiry asks whether to move the expiry date and, if so, how
// long the new version stays valid, in days. Declining keeps the
// current expiry.
func (c *Ceremony) promptExpiry(current string) (expires time.Time, err error) {
	change, err := c.prompter.Confirm(
		fmt.Sprintf("Change the expiry date (currently %s)?", current), false)
	if err != nil {
		return expires, err
	}
	if !change {
		return rootmeta.ParseExpiry(current)
	}

	for {
		answer, err := c.prompter.Input("Days until the new root metadata expires", "365")
		if err != nil {
			return expires, err
		}
		days, convErr := strconv.Atoi(strings.TrimSpace(answer))
		if convErr != nil || days < 1 {
			c.prompter.Show(fmt.Sprintf("%q is not a positive number of days.", answer))
			continue
		}
		expires = c.clock.Now().AddDate(0, 0, days)
		c.prompter.Show(fmt.Sprintf("New expiry: %s.", rootmeta.FormatExpiry(expires)))
		return expires, nil
	}
}

// editRootRole runs the key management loop. Every rejected edit is
// reported and the loop re-prompts; the role invariant holds after
// every step.
func (c *Ceremony) editRootRole(role *roleset.RoleSet) (*roleset.RoleSet, error) {
	for {
		c.showRole(role)
		choice, err := c.prompter.Select("Root role", []string{
			"add a root key",
			"remove a root key",
			"change the signature threshold",
			"continue",
		})
		if err != nil {
			return nil, err
		}

		switch choice {
		case 0:
			key, err := c.promptPublicKey()
			if err != nil {
				return nil, err
			}
			if key == nil {
				continue
			}
			if err := role.Add(key); err != nil {
				c.prompter.Show(err.Error())
			}
		case 1:
			if err := c.promptRemoveKey(role); err != nil {
				return nil, err
			}
		case 2:
			if err := c.promptThreshold(role); err != nil {
				return nil, err
			}
		case 3:
			return role, nil
		}
	}
}

func (c *Ceremony) showRole(role *roleset.RoleSet) {
	var lines []string
	lines = append(lines, fmt.Sprintf("Root role: %d keys, threshold %d.", len(role.Keys()), role.Threshold()))
	for _, key := range role.Keys() {
		lines = append(lines, fmt.Sprintf("  %s (%s)", key.Name, shortID(key.ID)))
	}
	c.prompter.Show(strings.Join(lines, "\n"))
}

// promptPublicKey loads a public key file named by the operator. A
// load failure is reported and yields nil so the caller can re-prompt.
func (c *Ceremony) promptPublicKey() (*keymat.Key, error) {
	path, err := c.prompter.Input("Public key file (PEM)", "")
	if err != nil {
		return nil, err
	}
	name, err := c.prompter.Input("Name for this key", "")
	if err != nil {
		return nil, err
	}
	key, loadErr := keymat.LoadPublicKey(strings.TrimSpace(path), strings.TrimSpace(name))
	if loadErr != nil {
		c.prompter.Show(loadErr.Error())
		return nil, nil
	}
	return key, nil
}

func (c *Ceremony) promptRemoveKey(role *roleset.RoleSet) error {
	keys := role.Keys()
	options := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		options = append(options, fmt.Sprintf("%s (%s)", key.Name, shortID(key.ID)))
	}
	options = append(options, "cancel")

	choice, err := c.prompter.Select("Remove which key?", options)
	if err != nil {
		return err
	}
	if choice == len(keys) {
		return nil
	}
	if err := role.Remove(keys[choice].ID); err != nil {
		c.prompter.Show(err.Error())
	}
	return nil
}

func (c *Ceremony) promptThreshold(role *roleset.RoleSet) error {
	answer, err := c.prompter.Input("Root signature threshold", strconv.Itoa(role.Threshold()))
	if err != nil {
		return err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(answer))
	if convErr != nil {
		c.prompter.Show(fmt.Sprintf("%q is not a number.", answer))
		return nil
	}
	if err := role.SetThreshold(n); err != nil {
		c.prompter.Show(err.Error())
	}
	return nil
}

// promptOnlineKey asks whether to rotate the online key and loads the
// replacement if so.
func (c *Ceremony) promptOnlineKey(current *rootmeta.Metadata) (*keymat.Key, error) {
	currentKey, err := current.Signed.OnlineKey()
	if err != nil {
		return nil, err
	}

	replace, err := c.prompter.Confirm(
		fmt.Sprintf("Replace the online key (%s)?", shortID(currentKey.ID)), false)
	if err != nil {
		return nil, err
	}
	if !replace {
		return currentKey, nil
	}

	for {
		key, err := c.promptPublicKey()
		if err != nil {
			return nil, err
		}
		if key == nil {
			continue
		}
		if key.ID == currentKey.ID {
			c.prompter.Show("That is the current online key; pick a different one.")
			continue
		}
		return key, nil
	}
}

// collectSignatures runs the signing loop until both role thresholds
// are met or the operator defers to a later sitting.
func (c *Ceremony) collectSignatures(metadata *rootmeta.Metadata, oldRole, newRole *roleset.RoleSet) (*Result, error) {
	eligible := eligibleKeys(oldRole, newRole)

	for {
		signed := metadata.SignedKeyIDs()
		missingOld := oldRole.MissingFor(signed)
		missingNew := newRole.MissingFor(signed)

		if missingOld == 0 && missingNew == 0 {
			c.prompter.Show("Both signature thresholds are met. Ceremony complete.")
			c.logger.Info("ceremony complete",
				"version", metadata.Signed.Version,
				"signatures", len(metadata.Signatures))
			return &Result{Metadata: metadata}, nil
		}

		c.prompter.Show(fmt.Sprintf(
			"Signatures still needed: %d for the outgoing root role, %d for the new root role.",
			missingOld, missingNew))

		var unsigned []*keymat.Key
		options := make([]string, 0, len(eligible)+1)
		for _, key := range eligible {
			if signed[key.ID] {
				continue
			}
			unsigned = append(unsigned, key)
			options = append(options, fmt.Sprintf("sign with %s (%s)", key.Name, shortID(key.ID)))
		}
		options = append(options, "finish later")

		choice, err := c.prompter.Select("Collect a signature", options)
		if err != nil {
			return nil, err
		}
		if choice == len(unsigned) {
			c.logger.Info("ceremony suspended",
				"version", metadata.Signed.Version,
				"missing_old", missingOld,
				"missing_new", missingNew)
			return &Result{
				Metadata:   metadata,
				Pending:    true,
				MissingOld: missingOld,
				MissingNew: missingNew,
			}, nil
		}

		if err := c.signWith(metadata, unsigned[choice]); err != nil {
			return nil, err
		}
	}
}

// signWith loads the private key file for the chosen key and signs.
// A wrong file or passphrase is reported and the loop continues; only
// prompter failures abort the ceremony.
func (c *Ceremony) signWith(metadata *rootmeta.Metadata, key *keymat.Key) error {
	path, err := c.prompter.Input(fmt.Sprintf("Private key file for %s", key.Name), "")
	if err != nil {
		return err
	}
	passphrase, err := c.prompter.Password(fmt.Sprintf("Passphrase for %s", key.Name))
	if err != nil {
		return err
	}
	defer passphrase.Close()

	loaded, loadErr := keymat.LoadPrivateKey(strings.TrimSpace(path), key.Name, passphrase)
	if loadErr != nil {
		c.prompter.Show(loadErr.Error())
		return nil
	}
	if loaded.ID != key.ID {
		c.prompter.Show(fmt.Sprintf(
			"Key file %s holds key %s, not the expected %s.", path, shortID(loaded.ID), shortID(key.ID)))
		return nil
	}

	if err := metadata.Sign(loaded); err != nil {
		c.prompter.Show(err.Error())
		return nil
	}
	c.prompter.Show(fmt.Sprintf("Signature by %s recorded.", key.Name))
	c.logger.Info("signature collected", "key", key.Name, "keyid", key.ID)
	return nil
}

// eligibleKeys is the union of the outgoing and incoming root role
// keys, outgoing order first. Each key appears once.
func eligibleKeys(oldRole, newRole *roleset.RoleSet) []*keymat.Key {
	var keys []*keymat.Key
	seen := make(map[string]bool)
	for _, key := range oldRole.Keys() {
		if !seen[key.ID] {
			keys = append(keys, key)
			seen[key.ID] = true
		}
	}
	for _, key := range newRole.Keys() {
		if !seen[key.ID] {
			keys = append(keys, key)
			seen[key.ID] = true
		}
	}
	return keys
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
