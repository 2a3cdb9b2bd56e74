package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/diodelink/diodelink/internal/api"
	"github.com/diodelink/diodelink/internal/encryption"
	"github.com/diodelink/diodelink/internal/events"
	"github.com/diodelink/diodelink/internal/identity"
	"github.com/diodelink/diodelink/internal/logging"
	"github.com/diodelink/diodelink/internal/transport"
)

type noopNotifier struct{}

func (noopNotifier) Notify(severity, title, message string) {}

func newTestAPI(t *testing.T, srv *httptest.Server) *api.Client {
	t.Helper()
	pipeline, err := transport.NewClient(transport.Options{
		BaseURL:   srv.URL,
		Timeout:   5 * time.Second,
		LoginPath: "/user/login/",
		Notifier:  noopNotifier{},
		Identity:  identity.NewStore(),
		Logger:    logging.NewLogger(io.Discard),
	})
	require.NoError(t, err)
	return api.NewClient(pipeline, "/user/login/")
}

func newTestRecipient(t *testing.T) (*encryption.Recipient, *[32]byte, *[32]byte) {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	recipient, err := encryption.NewRecipient(base64.StdEncoding.EncodeToString(pub[:]))
	require.NoError(t, err)
	return recipient, pub, priv
}

func TestEncryptedUploadFullFlow(t *testing.T) {
	plaintext := []byte("twenty bytes exactly")
	require.Len(t, plaintext, 20)

	var (
		mu         sync.Mutex
		parts      [][]byte
		headerB64  string
		wrappedB64 string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferables/init-multipart-upload/":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id": "up-1", "filename": "notes.txt", "part_size": 8}`)
		case "/transferables/up-1/file-part/":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			file, _, err := r.FormFile("file_part")
			require.NoError(t, err)
			got, _ := io.ReadAll(file)
			file.Close()
			mu.Lock()
			parts = append(parts, got)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case "/transferables/up-1/finalize-multipart-upload/":
			assert.Equal(t, "3", r.Header.Get("Metadata-Parts-Count"))
			assert.Equal(t, "24", r.Header.Get("Metadata-Main-Part-Size"))
			assert.Equal(t, "20", r.Header.Get("Metadata-Last-Part-Size"))
			assert.Equal(t, "68", r.Header.Get("Metadata-Encrypted-Size"))
			mu.Lock()
			headerB64 = r.Header.Get("Metadata-Header")
			wrappedB64 = r.Header.Get("Metadata-Encrypted-Symmetric-Key")
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id": "t-1", "name": "notes.txt", "state": "SUCCESS"}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	recipient, pub, priv := newTestRecipient(t)
	bus := events.NewBus(64)
	completed := bus.Subscribe(events.EventUploadCompleted)
	orch := New(newTestAPI(t, srv), recipient, 1<<30, bus, logging.NewLogger(io.Discard))

	var progress []int
	res, err := orch.Upload(context.Background(), Target{
		Name:   "notes.txt",
		Size:   int64(len(plaintext)),
		Source: bytes.NewReader(plaintext),
	}, true, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	require.NotNil(t, res.Transferable)
	assert.Equal(t, "t-1", res.Transferable.ID)

	// Progress counts chunks handed to the transport: 0, ceil(100/3),
	// ceil(200/3), then 100 once the gateway confirmed the assembly.
	assert.Equal(t, []int{0, 34, 67, 100}, progress)

	select {
	case ev := <-completed:
		assert.Equal(t, string(StateCompleted), ev.(*events.UploadEvent).State)
	default:
		t.Fatal("no completion event published")
	}

	// The server-side view must decrypt back to the original plaintext.
	require.Len(t, parts, 3)
	header, err := base64.StdEncoding.DecodeString(headerB64)
	require.NoError(t, err)
	sealed, err := base64.StdEncoding.DecodeString(wrappedB64)
	require.NoError(t, err)
	key, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	require.True(t, ok, "wrapped key must open under the recipient private key")

	pull, err := encryption.NewPullSession(header, key)
	require.NoError(t, err)
	var recovered []byte
	for _, part := range parts {
		chunk, err := pull.DecryptChunk(part)
		require.NoError(t, err)
		recovered = append(recovered, chunk...)
	}
	assert.Equal(t, plaintext, recovered)
}

func TestValidationRejectsBeforeAnyRequest(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	orch := New(newTestAPI(t, srv), nil, 100, nil, logging.NewLogger(io.Discard))

	for _, size := range []int64{0, 101} {
		res, err := orch.Upload(context.Background(), Target{
			Name:   "too-big.bin",
			Size:   size,
			Source: bytes.NewReader(nil),
		}, false, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrFileTooLarge)
		assert.Equal(t, StateFailed, res.State)
	}
	assert.Zero(t, hits, "size validation must not touch the network")
}

func TestCancellationAbortsWithoutFurtherChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var partHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transferables/init-multipart-upload/":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id": "up-1", "filename": "big.bin", "part_size": 4}`)
		case "/transferables/up-1/file-part/":
			partHits++
			cancel()
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	recipient, _, _ := newTestRecipient(t)
	orch := New(newTestAPI(t, srv), recipient, 1<<30, nil, logging.NewLogger(io.Discard))

	res, err := orch.Upload(ctx, Target{
		Name:   "big.bin",
		Size:   16,
		Source: bytes.NewReader(make([]byte, 16)),
	}, true, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, 1, partHits, "no chunk may start after cancellation")
}

func TestPlainUploadProgressIsMonotonic(t *testing.T) {
	payload := make([]byte, 1<<16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Len(t, body, len(payload))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id": "t-9", "name": "flat.bin", "state": "SUCCESS"}`)
	}))
	defer srv.Close()

	orch := New(newTestAPI(t, srv), nil, 1<<30, nil, logging.NewLogger(io.Discard))

	var progress []int
	res, err := orch.Upload(context.Background(), Target{
		Name:   "flat.bin",
		Size:   int64(len(payload)),
		Source: bytes.NewReader(payload),
	}, false, func(p int) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)

	require.NotEmpty(t, progress)
	assert.True(t, sort.IntsAreSorted(progress), "progress must never go backwards: %v", progress)
	assert.Equal(t, 100, progress[len(progress)-1])
	for _, p := range progress {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
	}
}

func TestEncryptedUploadWithoutRecipientFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	orch := New(newTestAPI(t, srv), nil, 1<<30, nil, logging.NewLogger(io.Discard))
	res, err := orch.Upload(context.Background(), Target{
		Name:   "x.bin",
		Size:   8,
		Source: bytes.NewReader(make([]byte, 8)),
	}, true, nil)
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
}
