package models

import (
	"net"
	"sort"
	"strings"

	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/privacy"
)

// IdentifierKind tags what an identifier value refers to.
type IdentifierKind string

const (
	KindIP      IdentifierKind = "ip"
	KindAccount IdentifierKind = "account"
	KindEmail   IdentifierKind = "email"
	KindDevice  IdentifierKind = "device"
)

// MaxIdentifierLength bounds identifier values to keep keys and logs small.
const MaxIdentifierLength = 320

// IsValid reports whether k is one of the supported kinds.
func (k IdentifierKind) IsValid() bool {
	switch k {
	case KindIP, KindAccount, KindEmail, KindDevice:
		return true
	}
	return false
}

// Identifier is a tracked subject of abuse signals. Two identifiers are equal
// only when both kind and normalized value match, so "ip:x" never collides
// with "account:x".
type Identifier struct {
	Kind  IdentifierKind `json:"kind"`
	Value string         `json:"value"`
}

// NewIdentifier normalizes and validates an identifier.
// Email and IP values are case-folded; IPs are also canonicalized when parseable.
func NewIdentifier(kind IdentifierKind, value string) (Identifier, error) {
	kind = IdentifierKind(strings.ToLower(strings.TrimSpace(string(kind))))
	if !kind.IsValid() {
		return Identifier{}, dErrors.New(dErrors.CodeInvalidInput, "unsupported identifier kind: "+string(kind))
	}
	value = normalizeValue(kind, value)
	if value == "" {
		return Identifier{}, dErrors.New(dErrors.CodeInvalidInput, "identifier value cannot be empty")
	}
	if len(value) > MaxIdentifierLength {
		return Identifier{}, dErrors.New(dErrors.CodeInvalidInput, "identifier value too long")
	}
	return Identifier{Kind: kind, Value: value}, nil
}

// ParseIdentifier parses the "kind:value" form, e.g. "ip:1.2.3.4".
func ParseIdentifier(s string) (Identifier, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok {
		return Identifier{}, dErrors.New(dErrors.CodeInvalidInput, "identifier must have the form kind:value")
	}
	return NewIdentifier(IdentifierKind(kind), value)
}

func normalizeValue(kind IdentifierKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case KindIP:
		if ip := net.ParseIP(value); ip != nil {
			return ip.String()
		}
		return strings.ToLower(value)
	case KindEmail:
		return strings.ToLower(value)
	}
	return value
}

// String returns the display form "kind:value".
func (i Identifier) String() string {
	return string(i.Kind) + ":" + i.Value
}

// Key returns a collision-safe storage segment for the identifier.
func (i Identifier) Key() string {
	return string(i.Kind) + ":" + sanitizeKeySegment(i.Value)
}

// IsZero reports whether the identifier is unset.
func (i Identifier) IsZero() bool {
	return i.Kind == "" && i.Value == ""
}

// Redacted returns a log-safe rendering of the identifier.
func (i Identifier) Redacted() string {
	switch i.Kind {
	case KindIP:
		return string(i.Kind) + ":" + privacy.AnonymizeIP(i.Value)
	case KindEmail:
		return string(i.Kind) + ":" + privacy.MaskEmail(i.Value)
	}
	return string(i.Kind) + ":" + privacy.HashValue(i.Value)
}

// IdentifierSet is the de-duplicated set of identifiers attached to one event.
type IdentifierSet []Identifier

// NewIdentifierSet de-duplicates ids and orders them deterministically.
// At least one identifier is required.
func NewIdentifierSet(ids ...Identifier) (IdentifierSet, error) {
	if len(ids) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one identifier is required")
	}
	seen := make(map[Identifier]struct{}, len(ids))
	set := make(IdentifierSet, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier cannot be empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	sort.Slice(set, func(a, b int) bool {
		if set[a].Kind != set[b].Kind {
			return set[a].Kind < set[b].Kind
		}
		return set[a].Value < set[b].Value
	})
	return set, nil
}

// Contains reports whether id is a member of the set.
func (s IdentifierSet) Contains(id Identifier) bool {
	for _, candidate := range s {
		if candidate == id {
			return true
		}
	}
	return false
}

// Strings returns the display form of every member.
func (s IdentifierSet) Strings() []string {
	out := make([]string, len(s))
	for i, id := range s {
		out[i] = id.String()
	}
	return out
}
