package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		id   string
		want Ref
	}{
		{"moai-123", Ref{Kind: KindMoai, StorageID: 123}},
		{"buddy-9", Ref{Kind: KindBuddy, StorageID: 9}},
		{"coach-7", Ref{Kind: KindCoach, StorageID: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ref, err := ParseRef(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
			assert.Equal(t, tt.id, ref.String())
			assert.True(t, ref.Valid())
		})
	}
}

func TestParseRefRejectsMalformedIDs(t *testing.T) {
	ids := []string{
		"",
		"moai",
		"moai-",
		"dm-5",
		"moai-abc",
		"moai-0",
		"moai--1",
		"123-moai",
	}
	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			_, err := ParseRef(id)
			assert.ErrorIs(t, err, ErrInvalidRef)
		})
	}
}

func TestWindowContains(t *testing.T) {
	w := Window{
		StartsAt: mustTime(t, "2026-08-03T00:00:00Z"),
		EndsAt:   mustTime(t, "2026-08-10T00:00:00Z"),
	}
	assert.True(t, w.Contains(mustTime(t, "2026-08-03T00:00:00Z")))
	assert.True(t, w.Contains(mustTime(t, "2026-08-06T12:00:00Z")))
	assert.False(t, w.Contains(mustTime(t, "2026-08-10T00:00:00Z")))
	assert.False(t, w.Contains(mustTime(t, "2026-08-02T23:59:59Z")))
}
