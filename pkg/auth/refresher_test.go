package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dickson-Hardy/pos-client-go/pkg/transport"
)

func newTestRefresher(t *testing.T, store *CredentialStore, baseURL string) *TokenRefresher {
	t.Helper()

	refresher, err := NewTokenRefresher(RefresherConfig{
		Store:   store,
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return refresher
}

func TestNewTokenRefresher_Validation(t *testing.T) {
	store, _, _, _ := newTestStore(t, time.Hour)

	_, err := NewTokenRefresher(RefresherConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)

	_, err = NewTokenRefresher(RefresherConfig{Store: store})
	assert.Error(t, err)
}

func TestRefresh_Success(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, 8*time.Hour)

	oldToken := testToken(t, clock.Now().Add(10*time.Minute), "cashier")
	require.NoError(t, store.Set(ctx, oldToken, []byte(`{"name":"Alice"}`)))
	before, _ := store.Credentials()

	newToken := testToken(t, clock.Now().Add(time.Hour), "cashier")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Equal(t, "Bearer "+oldToken, r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"token":%q}`, newToken)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)
	require.NoError(t, refresher.Refresh(ctx))

	after, ok := store.Credentials()
	require.True(t, ok)
	assert.Equal(t, newToken, after.Token)
	assert.True(t, after.SessionStart.Equal(before.SessionStart),
		"refresh must not extend the session")
	assert.Equal(t, []byte(`{"name":"Alice"}`), after.Profile)
}

func TestRefresh_UpdatesProfileWhenReturned(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, time.Hour)

	oldToken := testToken(t, clock.Now().Add(10*time.Minute), "")
	require.NoError(t, store.Set(ctx, oldToken, []byte(`{"name":"Alice"}`)))

	newToken := testToken(t, clock.Now().Add(time.Hour), "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"token":%q,"profile":{"name":"Alice","shift":"late"}}`, newToken)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)
	require.NoError(t, refresher.Refresh(ctx))

	after, _ := store.Credentials()
	assert.JSONEq(t, `{"name":"Alice","shift":"late"}`, string(after.Profile))
}

func TestRefresh_SingleFlight(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, time.Hour)

	oldToken := testToken(t, clock.Now().Add(10*time.Minute), "")
	require.NoError(t, store.Set(ctx, oldToken, nil))

	var hits atomic.Int32
	newToken := testToken(t, clock.Now().Add(time.Hour), "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		fmt.Fprintf(w, `{"token":%q}`, newToken)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = refresher.Refresh(ctx)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int32(1), hits.Load(), "concurrent callers must share one renewal")
}

func TestRefresh_FailureClearsCredential(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, time.Hour)

	oldToken := testToken(t, clock.Now().Add(10*time.Minute), "")
	require.NoError(t, store.Set(ctx, oldToken, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)
	err := refresher.Refresh(ctx)
	assert.Error(t, err)
	assert.Equal(t, transport.ErrorClassAuth, transport.ClassOf(err))

	_, ok := store.Credentials()
	assert.False(t, ok, "failed refresh ends the session")
}

func TestRefresh_NoCredential(t *testing.T) {
	store, _, _, _ := newTestStore(t, time.Hour)

	refresher := newTestRefresher(t, store, "http://localhost:9")
	err := refresher.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRefresh_DetachedFromCallerCancellation(t *testing.T) {
	store, _, _, clock := newTestStore(t, time.Hour)

	oldToken := testToken(t, clock.Now().Add(10*time.Minute), "")
	require.NoError(t, store.Set(context.Background(), oldToken, nil))

	newToken := testToken(t, clock.Now().Add(time.Hour), "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"token":%q}`, newToken)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// The renewal serves all waiters; one caller's dead context must not
	// fail it.
	assert.NoError(t, refresher.Refresh(cancelled))

	after, _ := store.Credentials()
	assert.Equal(t, newToken, after.Token)
}

func TestValidate_OK(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, time.Hour)
	require.NoError(t, store.Set(ctx, testToken(t, clock.Now().Add(time.Hour), ""), nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/session", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)
	assert.NoError(t, refresher.Validate(ctx))
}

func TestValidate_AuthRejection(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, time.Hour)
	require.NoError(t, store.Set(ctx, testToken(t, clock.Now().Add(time.Hour), ""), nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := newTestRefresher(t, store, server.URL)
	err := refresher.Validate(ctx)
	assert.Error(t, err)
	assert.Equal(t, transport.ErrorClassAuth, transport.ClassOf(err))
}

func TestValidate_UnreachableBackend(t *testing.T) {
	ctx := context.Background()
	store, _, _, clock := newTestStore(t, time.Hour)
	require.NoError(t, store.Set(ctx, testToken(t, clock.Now().Add(time.Hour), ""), nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	refresher := newTestRefresher(t, store, server.URL)
	err := refresher.Validate(ctx)
	assert.Error(t, err)
	assert.Equal(t, transport.ErrorClassNetwork, transport.ClassOf(err))
}
