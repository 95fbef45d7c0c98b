package channel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the wire prefix of a channel ID. It selects the storage
// partition every other component routes through, so it never changes
// after creation.
type Kind string

const (
	// KindMoai is a community group channel.
	KindMoai Kind = "moai"
	// KindBuddy is a paired accountability channel rotated on a schedule.
	KindBuddy Kind = "buddy"
	// KindCoach is a coach-to-client conversation, one-on-one or group.
	KindCoach Kind = "coach"
)

var ErrInvalidRef = errors.New("invalid channel reference")

// Ref identifies a channel as a parsed {kind, storage ID} value. IDs on
// the wire are "<kind>-<storageID>" strings; parsing happens once at the
// boundary and the value flows from there.
type Ref struct {
	Kind      Kind
	StorageID int64
}

// ParseRef decodes a wire channel ID like "moai-123".
func ParseRef(id string) (Ref, error) {
	prefix, rest, ok := strings.Cut(id, "-")
	if !ok || rest == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, id)
	}

	kind := Kind(prefix)
	switch kind {
	case KindMoai, KindBuddy, KindCoach:
	default:
		return Ref{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRef, prefix)
	}

	storageID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || storageID <= 0 {
		return Ref{}, fmt.Errorf("%w: bad storage id %q", ErrInvalidRef, rest)
	}

	return Ref{Kind: kind, StorageID: storageID}, nil
}

func (r Ref) String() string {
	return string(r.Kind) + "-" + strconv.FormatInt(r.StorageID, 10)
}

// Valid reports whether the ref carries a known kind and a storage ID.
func (r Ref) Valid() bool {
	switch r.Kind {
	case KindMoai, KindBuddy, KindCoach:
		return r.StorageID > 0
	}
	return false
}
