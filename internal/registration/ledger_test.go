package registration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"booky.app/internal/kvstore"
	"booky.app/internal/users"
)

func newRedisStore(t *testing.T) (*miniredis.Miniredis, kvstore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store, err := kvstore.NewRedis(context.Background(), kvstore.RedisConfig{Addr: mr.Addr()}, time.Second)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func readerProfile() Profile {
	return Profile{CategoryIDs: []int64{1, 2}}
}

func TestAliceScenario(t *testing.T) {
	_, store := newRedisStore(t)
	dir := users.NewMemory()
	ledger := NewLedger(store, dir, 30*time.Minute)
	ctx := context.Background()

	t1, err := ledger.Begin(ctx, "alice@x.com", "hash", readerProfile())
	require.NoError(t, err)

	already, err := ledger.Confirm(ctx, t1)
	require.NoError(t, err)
	require.False(t, already)

	before, err := store.Get(ctx, kvstore.Key(kvstore.PendingPrefix, t1))
	require.NoError(t, err)
	already, err = ledger.Confirm(ctx, t1)
	require.NoError(t, err)
	require.True(t, already)
	after, err := store.Get(ctx, kvstore.Key(kvstore.PendingPrefix, t1))
	require.NoError(t, err)
	require.Equal(t, before, after, "re-confirming must not change state")

	u, err := ledger.Complete(ctx, t1, Profile{Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, "alice", u.Username)
	require.Equal(t, []int64{1, 2}, u.CategoryIDs)
	require.True(t, u.IsActive)

	stored, err := dir.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, stored.ID)

	_, err = ledger.Complete(ctx, t1, Profile{Username: "alice"})
	require.ErrorIs(t, err, ErrExpiredOrUnknownToken)
}

func TestCompleteRequiresVerification(t *testing.T) {
	ledger := NewLedger(kvstore.NewMemory(), users.NewMemory(), time.Hour)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "bob@example.com", "hash", readerProfile())
	require.NoError(t, err)
	_, err = ledger.Complete(ctx, tok, Profile{Username: "bob"})
	require.ErrorIs(t, err, ErrNotVerified)

	// The entry survives a rejected completion.
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)
}

func TestCompleteValidatesProfile(t *testing.T) {
	ledger := NewLedger(kvstore.NewMemory(), users.NewMemory(), time.Hour)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "carol@example.com", "hash", Profile{})
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)

	_, err = ledger.Complete(ctx, tok, Profile{Username: "c", CategoryIDs: []int64{1}})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = ledger.Complete(ctx, tok, Profile{Username: "carol"})
	require.ErrorIs(t, err, ErrInvalidInput)

	u, err := ledger.Complete(ctx, tok, Profile{Username: "carol", CategoryIDs: []int64{4}})
	require.NoError(t, err)
	require.Equal(t, "carol@example.com", u.Email)
}

func TestBeginRejectsRegisteredEmail(t *testing.T) {
	dir := users.NewMemory()
	ctx := context.Background()
	require.NoError(t, dir.Create(ctx, &users.User{Email: "dave@example.com"}))

	ledger := NewLedger(kvstore.NewMemory(), dir, time.Hour)
	_, err := ledger.Begin(ctx, "DAVE@example.com", "hash", Profile{})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRestartInvalidatesPreviousToken(t *testing.T) {
	_, store := newRedisStore(t)
	ledger := NewLedger(store, users.NewMemory(), time.Hour)
	ctx := context.Background()

	t1, err := ledger.Begin(ctx, "erin@example.com", "hash", readerProfile())
	require.NoError(t, err)
	other, err := ledger.Begin(ctx, "frank@example.com", "hash", readerProfile())
	require.NoError(t, err)
	t2, err := ledger.Begin(ctx, "erin@example.com", "hash2", readerProfile())
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)

	_, err = ledger.Confirm(ctx, t1)
	require.ErrorIs(t, err, ErrExpiredOrUnknownToken)
	_, err = ledger.Confirm(ctx, t2)
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, other)
	require.NoError(t, err, "entries for other emails are untouched")
}

func TestPendingEntryExpires(t *testing.T) {
	mr, store := newRedisStore(t)
	ledger := NewLedger(store, users.NewMemory(), 5*time.Minute)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "gina@example.com", "hash", readerProfile())
	require.NoError(t, err)

	mr.FastForward(4 * time.Minute)
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)

	// Confirmation restarts the TTL.
	mr.FastForward(4 * time.Minute)
	_, err = ledger.Complete(ctx, tok, Profile{Username: "gina"})
	require.NoError(t, err)

	tok, err = ledger.Begin(ctx, "hank@example.com", "hash", readerProfile())
	require.NoError(t, err)
	mr.FastForward(6 * time.Minute)
	_, err = ledger.Confirm(ctx, tok)
	require.ErrorIs(t, err, ErrExpiredOrUnknownToken)
}

func TestConcurrentCompleteCreatesOneUser(t *testing.T) {
	_, store := newRedisStore(t)
	dir := users.NewMemory()
	ledger := NewLedger(store, dir, time.Hour)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "ivy@example.com", "hash", readerProfile())
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		expired int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := ledger.Complete(ctx, tok, Profile{Username: "ivy"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrExpiredOrUnknownToken):
				expired++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, workers-1, expired)
}

type flakyDirectory struct {
	*users.Memory
	failCreate bool
}

func (d *flakyDirectory) Create(ctx context.Context, u *users.User) error {
	if d.failCreate {
		return errors.New("connection refused")
	}
	return d.Memory.Create(ctx, u)
}

func TestCompleteRestoresEntryOnInfrastructureFailure(t *testing.T) {
	dir := &flakyDirectory{Memory: users.NewMemory(), failCreate: true}
	ledger := NewLedger(kvstore.NewMemory(), dir, time.Hour)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "jack@example.com", "hash", readerProfile())
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)

	_, err = ledger.Complete(ctx, tok, Profile{Username: "jack"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrExpiredOrUnknownToken)

	dir.failCreate = false
	u, err := ledger.Complete(ctx, tok, Profile{Username: "jack"})
	require.NoError(t, err)
	require.Equal(t, "jack@example.com", u.Email)
}

func TestCompleteDetectsRacingSignup(t *testing.T) {
	dir := users.NewMemory()
	ledger := NewLedger(kvstore.NewMemory(), dir, time.Hour)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "kim@example.com", "hash", readerProfile())
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)

	require.NoError(t, dir.Create(ctx, &users.User{Email: "kim@example.com"}))
	_, err = ledger.Complete(ctx, tok, Profile{Username: "kim"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestStoreOutageSurfacesUnavailable(t *testing.T) {
	mr, store := newRedisStore(t)
	ledger := NewLedger(store, users.NewMemory(), time.Hour)
	mr.Close()

	_, err := ledger.Confirm(context.Background(), "whatever")
	require.ErrorIs(t, err, kvstore.ErrUnavailable)
	require.NotErrorIs(t, err, ErrExpiredOrUnknownToken)
}

type catalogueDirectory struct {
	*users.Memory
	known map[int64]bool
}

func (d *catalogueDirectory) Create(ctx context.Context, u *users.User) error {
	for _, id := range u.CategoryIDs {
		if !d.known[id] {
			return users.ErrUnknownCategory
		}
	}
	return d.Memory.Create(ctx, u)
}

func TestCompleteRejectsUnknownCategory(t *testing.T) {
	dir := &catalogueDirectory{Memory: users.NewMemory(), known: map[int64]bool{1: true}}
	ledger := NewLedger(kvstore.NewMemory(), dir, time.Hour)
	ctx := context.Background()

	tok, err := ledger.Begin(ctx, "lena@example.com", "hash", Profile{CategoryIDs: []int64{42}})
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, tok)
	require.NoError(t, err)

	_, err = ledger.Complete(ctx, tok, Profile{Username: "lena"})
	require.ErrorIs(t, err, ErrInvalidInput)

	u, err := ledger.Complete(ctx, tok, Profile{Username: "lena", CategoryIDs: []int64{1}})
	require.NoError(t, err, "the entry survives a rejected category")
	require.Equal(t, []int64{1}, u.CategoryIDs)
}
