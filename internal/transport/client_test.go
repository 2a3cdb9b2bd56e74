package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diodelink/diodelink/internal/identity"
)

type notification struct {
	severity string
	title    string
	message  string
}

type spyNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (s *spyNotifier) Notify(severity, title, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, notification{severity, title, message})
}

func (s *spyNotifier) all() []notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification(nil), s.calls...)
}

func newTestClient(t *testing.T, baseURL string) (*Client, *spyNotifier, *identity.Store) {
	t.Helper()
	notifier := &spyNotifier{}
	store := identity.NewStore()
	client, err := NewClient(Options{
		BaseURL:   baseURL,
		LoginPath: "/user/login/",
		Notifier:  notifier,
		Identity:  store,
	})
	require.NoError(t, err)
	return client, notifier, store
}

func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	_, err := NewClient(Options{Notifier: &spyNotifier{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API base URL is empty")
}

func TestSuccessfulResponseBodyIsNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"part_size": 2621440, "nested": {"created_at": "now"}, "items": [{"some_key": 1}]}`)
	}))
	defer server.Close()

	client, notifier, _ := newTestClient(t, server.URL)
	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, resp.Decode(&decoded))
	assert.Contains(t, decoded, "partSize")
	assert.Contains(t, decoded["nested"], "createdAt")
	items := decoded["items"].([]any)
	assert.Contains(t, items[0], "someKey")
	assert.Empty(t, notifier.all())
}

func TestRequestKeysAreNormalized(t *testing.T) {
	var gotQuery string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL)
	_, err := client.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/thing/",
		Query: map[string][]string{
			"pageSize": {"20"},
			"expand":   {"userProvidedMeta"},
		},
		JSON: map[string]any{"displayName": "demo", "meta": map[string]any{"innerKey": true}},
	})
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "page_size=20")
	assert.Contains(t, gotQuery, "expand=user_provided_meta", "expand values name wire fields")
	assert.Contains(t, gotBody, "display_name")
	assert.Contains(t, gotBody["meta"], "inner_key")
}

func TestExpiredSessionIsRefreshedAndRetriedOnce(t *testing.T) {
	var mu sync.Mutex
	thingHits, loginHits := 0, 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case "/user/login/":
			loginHits++
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Zero(t, r.ContentLength, "refresh call carries no body")
			w.WriteHeader(http.StatusOK)
		case "/thing/":
			thingHits++
			if thingHits == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ok": true}`)
		}
	}))
	defer server.Close()

	client, notifier, _ := newTestClient(t, server.URL)
	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.NoError(t, err, "the retry's result resolves the original request")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, thingHits, "original request retransmitted exactly once")
	assert.Equal(t, 1, loginHits)
	assert.Empty(t, notifier.all(), "a recovered 401 is invisible to the user")
}

func TestSecond401AfterRefreshIsAHardFailure(t *testing.T) {
	loginHits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/login/" {
			loginHits++
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	status, ok := StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 1, loginHits, "no refresh storm on repeated 401s")
}

func TestBasicChallengeDisablesRefresh(t *testing.T) {
	loginHits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/login/" {
			loginHits++
		}
		w.Header().Set("Www-Authenticate", `Basic realm="gateway"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, notifier, _ := newTestClient(t, server.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	status, _ := StatusCode(err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Zero(t, loginHits, "no refresh attempted against a basic-auth challenge")
	assert.Empty(t, notifier.all())
}

func TestFailedRefreshIsNotified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/user/login/" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, notifier, _ := newTestClient(t, server.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	status, _ := StatusCode(err)
	assert.Equal(t, http.StatusUnauthorized, status, "the original failure propagates")

	calls := notifier.all()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, "Error.401.title", last.title)
	assert.Contains(t, last.message, "503", "notification carries the refresh failure's message")
}

func TestClassifiedStatusesRaiseNotifications(t *testing.T) {
	for _, status := range []int{403, 404, 500, 503} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			client, notifier, _ := newTestClient(t, server.URL)
			_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
			require.Error(t, err, "the error still propagates to the caller")

			calls := notifier.all()
			require.Len(t, calls, 1)
			assert.Equal(t, fmt.Sprintf("Error.%d.title", status), calls[0].title)
			assert.Equal(t, fmt.Sprintf("Error.%d.message", status), calls[0].message)
		})
	}
}

func TestUnclassifiedStatusPropagatesSilently(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, notifier, _ := newTestClient(t, server.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	status, _ := StatusCode(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, notifier.all(), "the caller presents unclassified errors inline")
}

func TestNetworkErrorIsNotified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listens anymore

	client, notifier, _ := newTestClient(t, server.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	assert.False(t, IsCancellation(err))

	calls := notifier.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "Error.Network.title", calls[0].title)
}

func TestCancellationIsSilent(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	client, notifier, _ := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Do(ctx, &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	assert.True(t, IsCancellation(err), "cancellation must be distinguishable from network failures")
	assert.Empty(t, notifier.all(), "no notification for a user-triggered cancellation")
}

func TestAuthenticatedUserHeaderUpdatesIdentity(t *testing.T) {
	var username string
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if username != "" {
			w.Header().Set("Authenticated-User", username)
		}
		w.WriteHeader(status)
	}))
	defer server.Close()

	client, _, store := newTestClient(t, server.URL)

	// Success responses set the user.
	username, status = "billmurray", http.StatusOK
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.NoError(t, err)
	user, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "billmurray", user.Username)

	// Error responses set it too.
	username, status = "peterparker", http.StatusBadRequest
	_, err = client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.Error(t, err)
	user, _ = store.Current()
	assert.Equal(t, "peterparker", user.Username)

	// An empty header never clears existing state.
	username, status = "", http.StatusOK
	_, err = client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.NoError(t, err)
	user, ok = store.Current()
	require.True(t, ok)
	assert.Equal(t, "peterparker", user.Username)

	// Logout is an explicit reset.
	store.Reset()
	_, ok = store.Current()
	assert.False(t, ok)
}

func TestDevRemoteUserHeaderOnlyOnLoginRoute(t *testing.T) {
	headersByPath := map[string]string{}
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headersByPath[r.URL.Path] = r.Header.Get("X-Remote-User")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := &spyNotifier{}
	client, err := NewClient(Options{
		BaseURL:       server.URL,
		LoginPath:     "/user/login/",
		DevRemoteUser: "dev",
		Notifier:      notifier,
		Identity:      identity.NewStore(),
	})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/user/login/"})
	require.NoError(t, err)
	_, err = client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/thing/"})
	require.NoError(t, err)

	assert.Equal(t, "dev", headersByPath["/user/login/"])
	assert.Empty(t, headersByPath["/thing/"])
}

func TestRequestTimeoutIsScopedPerRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	notifier := &spyNotifier{}
	client, err := NewClient(Options{
		BaseURL:   server.URL,
		Timeout:   50 * time.Millisecond,
		LoginPath: "/user/login/",
		Notifier:  notifier,
		Identity:  identity.NewStore(),
	})
	require.NoError(t, err)

	_, err = client.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/slow/"})
	require.Error(t, err)
	assert.False(t, IsCancellation(err), "a timeout is a network failure, not a user cancellation")
}
