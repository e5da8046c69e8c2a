// Package secret marks credential-bearing fields at the type level so
// that scrubbing is a traversal over marked fields rather than a
// string search over field names (see DESIGN NOTES, "Error carriers").
package secret

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"lura/internal/invariant"
)

// ScrubTag replaces the value of any secret-bearing field in a
// retained context snapshot or result dump.
const ScrubTag = "***"

// Value wraps a credential so that accidental fmt/log exposure prints
// ScrubTag instead of the underlying bytes. Every sudo password,
// sudo-login passphrase, and ssh password/key-passphrase field in
// RunContext and SshHost config is a Value, never a bare string.
type Value struct {
	plain string
	id    uint64
}

// New wraps v as a secret Value. An empty v is a valid "no secret set"
// value and is never considered present by Empty.
func New(v string) Value {
	var idBytes [8]byte
	if _, err := rand.Read(idBytes[:]); err != nil {
		panic(fmt.Sprintf("secret: failed to generate id: %v", err))
	}
	return Value{plain: v, id: binary.LittleEndian.Uint64(idBytes[:])}
}

// Empty reports whether no secret was ever set.
func (v Value) Empty() bool { return v.plain == "" }

// Reveal returns the underlying secret. Call sites must be narrow and
// explicit: passing a password to exec.Cmd.Env, writing it to the
// SudoHelper FIFO. Never call Reveal when building a value destined
// for a log line or a RunResult snapshot.
func (v Value) Reveal() string { return v.plain }

// String implements fmt.Stringer so that accidental %v/%s formatting
// (logs, error messages, struct dumps) never prints the secret.
func (v Value) String() string {
	if v.Empty() {
		return ""
	}
	return ScrubTag
}

// MarshalYAML implements yaml.Marshaler so that dump() (§6) always
// emits the scrub tag for any Value field, never the plaintext.
func (v Value) MarshalYAML() (any, error) {
	if v.Empty() {
		return "", nil
	}
	return ScrubTag, nil
}

// ID returns an opaque, value-independent identifier for this secret,
// suitable for equality checks in logs ("same password reused") without
// ever reconstructing the plaintext from it.
func (v Value) ID() uint64 {
	invariant.Precondition(!v.Empty(), "ID called on empty secret.Value")
	return v.id
}
