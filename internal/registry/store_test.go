// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newBadgerTestStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testToken(suffix string) string {
	return strings.Repeat("t", MinTokenLength) + suffix
}

func TestStores(t *testing.T) {
	backends := map[string]func(*testing.T) Store{
		"badger": newBadgerTestStore,
		"redis":  newRedisTestStore,
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Run("put and get roundtrip", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				now := time.Now().UTC().Truncate(time.Millisecond)
				rec := &Record{
					Token:     testToken("roundtrip"),
					UserID:    "user-1",
					Metadata:  map[string]string{"device": "phone"},
					CreatedAt: now.Add(-time.Hour),
					UpdatedAt: now,
				}
				require.NoError(t, s.Put(ctx, rec))

				got, err := s.Get(ctx, rec.Token)
				require.NoError(t, err)
				require.Equal(t, rec.UserID, got.UserID)
				require.Equal(t, rec.Metadata, got.Metadata)
				require.True(t, rec.CreatedAt.Equal(got.CreatedAt))
				require.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))
				require.False(t, got.Invalidated)
			})

			t.Run("get unknown token", func(t *testing.T) {
				s := open(t)
				_, err := s.Get(context.Background(), testToken("missing"))
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("mark invalidated keeps record", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				tok := testToken("revoke")
				require.NoError(t, s.Put(ctx, &Record{Token: tok, UserID: "user-2"}))

				require.NoError(t, s.MarkInvalidated(ctx, tok))

				got, err := s.Get(ctx, tok)
				require.NoError(t, err)
				require.True(t, got.Invalidated)
				require.Equal(t, "user-2", got.UserID)
			})

			t.Run("mark invalidated unknown token", func(t *testing.T) {
				s := open(t)
				err := s.MarkInvalidated(context.Background(), testToken("missing"))
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("exchange log preserves append order", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				for i, id := range []string{"first", "second", "third"} {
					entry := &ExchangeEntry{
						ID:         id,
						SourceUser: "alice",
						TargetUser: "bob",
						Message:    "ping",
						At:         time.Now().Add(time.Duration(i) * time.Second),
					}
					require.NoError(t, s.AppendExchange(ctx, entry))
				}

				entries, err := s.Exchanges(ctx)
				require.NoError(t, err)
				require.Len(t, entries, 3)
				require.Equal(t, "first", entries[0].ID)
				require.Equal(t, "second", entries[1].ID)
				require.Equal(t, "third", entries[2].ID)
			})
		})
	}
}
