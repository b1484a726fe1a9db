package upload

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/geoseq/internal/apperr"
)

const testToken = "test-token"

type appendCall struct {
	offset int64
	size   int
}

// fakeServer implements the upload protocol in memory. Handles are derived
// from the received content so identical uploads yield identical handles.
type fakeServer struct {
	mu      sync.Mutex
	data    map[string][]byte
	appends []appendCall
	gets    int

	failAppend int    // 1-based append request that answers 500; 0 disables
	omitHandle bool   // terminal response without "h"
	finishBody string // raw completion response; empty means a generated cluster id
	lastFinish map[string]any
}

func newFakeServer(t *testing.T) (*fakeServer, *HTTPClient) {
	t.Helper()
	fs := &fakeServer{data: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /upload/{key}", fs.handleOffset)
	mux.HandleFunc("POST /upload/{key}", fs.handleAppend)
	mux.HandleFunc("POST /graph/finish_upload", fs.handleFinish)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient(
		WithUploadURL(srv.URL+"/upload"),
		WithGraphURL(srv.URL+"/graph"),
		WithHTTPClient(srv.Client()),
	)
	return fs, client
}

func (fs *fakeServer) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "OAuth "+testToken {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

func (fs *fakeServer) handleOffset(w http.ResponseWriter, r *http.Request) {
	if !fs.authorized(w, r) {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.gets++
	_ = json.NewEncoder(w).Encode(map[string]int{"offset": len(fs.data[r.PathValue("key")])})
}

func (fs *fakeServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	if !fs.authorized(w, r) {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := r.PathValue("key")
	if r.Header.Get("X-Entity-Name") != key || r.Header.Get("X-Entity-Type") != EntityType {
		http.Error(w, `{"error":"bad entity headers"}`, http.StatusBadRequest)
		return
	}
	offset, err := strconv.ParseInt(r.Header.Get("Offset"), 10, 64)
	if err != nil || offset != int64(len(fs.data[key])) {
		http.Error(w, `{"error":"offset mismatch"}`, http.StatusPreconditionFailed)
		return
	}
	total, err := strconv.ParseInt(r.Header.Get("X-Entity-Length"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"bad entity length"}`, http.StatusBadRequest)
		return
	}

	chunk, _ := io.ReadAll(r.Body)
	fs.appends = append(fs.appends, appendCall{offset: offset, size: len(chunk)})
	if fs.failAppend > 0 && len(fs.appends) == fs.failAppend {
		http.Error(w, `{"error":"try again"}`, http.StatusServiceUnavailable)
		return
	}
	fs.data[key] = append(fs.data[key], chunk...)

	if len(chunk) == 0 && int64(len(fs.data[key])) == total && !fs.omitHandle {
		sum := md5.Sum(fs.data[key])
		_ = json.NewEncoder(w).Encode(map[string]string{"h": "handle-" + hex.EncodeToString(sum[:])})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]int{"offset": len(fs.data[key])})
}

func (fs *fakeServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	if !fs.authorized(w, r) {
		return
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	fs.lastFinish = body

	if fs.finishBody != "" {
		_, _ = io.WriteString(w, fs.finishBody)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"cluster_id": fmt.Sprintf("cluster-%v", body["file_handle"])})
}

func (fs *fakeServer) appendCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.appends)
}

func newSession(t *testing.T, c *HTTPClient, key string, size int64) *Service {
	t.Helper()
	svc, err := c.Session(Session{AccessToken: testToken, Key: key, EntitySize: size})
	require.NoError(t, err)
	return svc
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestHTTPClient_Session_Validation(t *testing.T) {
	fs, c := newFakeServer(t)

	tests := []struct {
		name    string
		session Session
		want    error
	}{
		{"zero entity size", Session{AccessToken: testToken, Key: "k", EntitySize: 0}, ErrInvalidEntitySize},
		{"negative entity size", Session{AccessToken: testToken, Key: "k", EntitySize: -5}, ErrInvalidEntitySize},
		{"missing key", Session{AccessToken: testToken, EntitySize: 1}, ErrSessionKeyRequired},
		{"missing token", Session{Key: "k", EntitySize: 1}, ErrAccessTokenRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Session(tt.session)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Zero(t, fs.appendCount())
	assert.Zero(t, fs.gets)
}

func TestService_Upload_InvalidChunkSize(t *testing.T) {
	fs, c := newFakeServer(t)
	svc := newSession(t, c, "k", 10)

	for _, size := range []int64{0, -1} {
		_, err := svc.Upload(t.Context(), bytes.NewReader(payload(10)), nil, size)
		assert.ErrorIs(t, err, ErrInvalidChunkSize)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	assert.Zero(t, fs.appendCount())
	assert.Zero(t, fs.gets)
}

func TestService_FetchOffset_NewSession(t *testing.T) {
	_, c := newFakeServer(t)
	svc := newSession(t, c, "fresh", 100)

	offset, err := svc.FetchOffset(t.Context())
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestService_Upload_Complete(t *testing.T) {
	tests := []struct {
		size  int
		chunk int64
	}{
		{10, 3},
		{10, 5},
		{10, 10},
		{10, 64},
		{1, 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("size=%d chunk=%d", tt.size, tt.chunk), func(t *testing.T) {
			fs, c := newFakeServer(t)
			data := payload(tt.size)
			svc := newSession(t, c, "k", int64(tt.size))

			var events []ChunkEvent
			svc.Subscribe(ObserverFunc(func(ev ChunkEvent) { events = append(events, ev) }))

			handle, err := svc.Upload(t.Context(), bytes.NewReader(data), nil, tt.chunk)
			require.NoError(t, err)
			assert.NotEmpty(t, handle)
			assert.Equal(t, data, fs.data["k"])

			offset, err := svc.FetchOffset(t.Context())
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), offset)

			require.NotEmpty(t, events)
			terminal := events[len(events)-1]
			assert.Zero(t, terminal.Size)
			assert.Equal(t, int64(tt.size), terminal.Committed)
			for _, call := range fs.appends[:len(fs.appends)-1] {
				assert.LessOrEqual(t, int64(call.size), tt.chunk)
				assert.Positive(t, call.size)
			}
			assert.Len(t, events, len(fs.appends))
		})
	}
}

func TestService_Upload_ResumeYieldsSameHandle(t *testing.T) {
	data := payload(10)

	fs, c := newFakeServer(t)
	reference := newSession(t, c, "reference", 10)
	want, err := reference.Upload(t.Context(), bytes.NewReader(data), nil, 3)
	require.NoError(t, err)

	fs.failAppend = len(fs.appends) + 3 // third chunk of the next session fails
	svc := newSession(t, c, "resumed", 10)

	_, err = svc.Upload(t.Context(), bytes.NewReader(data), nil, 3)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, ErrServerError)

	committed, err := svc.FetchOffset(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(6), committed)

	var sent int64
	svc.Subscribe(ObserverFunc(func(ev ChunkEvent) { sent += int64(ev.Size) }))

	got, err := svc.Upload(t.Context(), bytes.NewReader(data), nil, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(10)-committed, sent)
	assert.Equal(t, data, fs.data["resumed"])
}

func TestService_Upload_ExplicitOffset(t *testing.T) {
	fs, c := newFakeServer(t)
	data := payload(8)
	fs.data["k"] = append([]byte(nil), data[:5]...)
	svc := newSession(t, c, "k", 8)

	offset := int64(5)
	_, err := svc.Upload(t.Context(), bytes.NewReader(data), &offset, 2)
	require.NoError(t, err)

	assert.Zero(t, fs.gets)
	assert.Equal(t, []appendCall{{5, 2}, {7, 1}, {8, 0}}, fs.appends)
	assert.Equal(t, data, fs.data["k"])
}

func TestService_Upload_ProtocolViolations(t *testing.T) {
	t.Run("source longer than entity", func(t *testing.T) {
		fs, c := newFakeServer(t)
		svc := newSession(t, c, "k", 5)

		_, err := svc.Upload(t.Context(), bytes.NewReader(payload(9)), nil, 2)
		assert.ErrorIs(t, err, ErrSourceTooLong)
		assert.ErrorIs(t, err, apperr.ErrProtocolViolation)
		assert.LessOrEqual(t, len(fs.data["k"]), 5)
	})

	t.Run("source shorter than entity", func(t *testing.T) {
		fs, c := newFakeServer(t)
		svc := newSession(t, c, "k", 12)

		_, err := svc.Upload(t.Context(), bytes.NewReader(payload(7)), nil, 4)
		var mismatch *OffsetMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, int64(7), mismatch.Offset)
		assert.Equal(t, int64(12), mismatch.EntitySize)
		assert.ErrorIs(t, err, apperr.ErrProtocolViolation)
		for _, call := range fs.appends {
			assert.Positive(t, call.size, "terminal chunk must not be sent")
		}
	})

	t.Run("missing file handle", func(t *testing.T) {
		fs, c := newFakeServer(t)
		fs.omitHandle = true
		svc := newSession(t, c, "k", 4)

		_, err := svc.Upload(t.Context(), bytes.NewReader(payload(4)), nil, 4)
		assert.ErrorIs(t, err, ErrMissingFileHandle)
		assert.ErrorIs(t, err, apperr.ErrProtocolViolation)
		assert.False(t, IsRetryable(err))
	})

	t.Run("offset beyond entity", func(t *testing.T) {
		_, c := newFakeServer(t)
		svc := newSession(t, c, "k", 4)

		offset := int64(9)
		_, err := svc.Upload(t.Context(), bytes.NewReader(payload(4)), &offset, 4)
		assert.ErrorIs(t, err, apperr.ErrProtocolViolation)
	})
}

func TestService_Upload_ClientErrorNotRetryable(t *testing.T) {
	_, c := newFakeServer(t)
	svc, err := c.Session(Session{AccessToken: "wrong", Key: "k", EntitySize: 4})
	require.NoError(t, err)

	_, err = svc.Upload(t.Context(), bytes.NewReader(payload(4)), nil, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, IsRetryable(err))
}

func TestService_Upload_CancelledBetweenChunks(t *testing.T) {
	fs, c := newFakeServer(t)
	svc := newSession(t, c, "k", 9)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	svc.Subscribe(ObserverFunc(func(ChunkEvent) { cancel() }))

	_, err := svc.Upload(ctx, bytes.NewReader(payload(9)), nil, 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fs.appendCount())
}

func TestService_Observers_RunInOrder(t *testing.T) {
	_, c := newFakeServer(t)
	svc := newSession(t, c, "k", 2)

	var order []string
	svc.Subscribe(ObserverFunc(func(ChunkEvent) { order = append(order, "first") }))
	svc.Subscribe(ObserverFunc(func(ChunkEvent) { order = append(order, "second") }))

	_, err := svc.Upload(t.Context(), bytes.NewReader(payload(2)), nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestService_Finish(t *testing.T) {
	t.Run("returns cluster id", func(t *testing.T) {
		fs, c := newFakeServer(t)
		svc := newSession(t, c, "k", 1)

		id, err := svc.Finish(t.Context(), "handle-1", "")
		require.NoError(t, err)
		assert.Equal(t, "cluster-handle-1", id)
		assert.Equal(t, map[string]any{"file_handle": "handle-1"}, fs.lastFinish)
	})

	t.Run("sends organization id", func(t *testing.T) {
		fs, c := newFakeServer(t)
		svc := newSession(t, c, "k", 1)

		_, err := svc.Finish(t.Context(), "handle-1", "org-7")
		require.NoError(t, err)
		assert.Equal(t, "org-7", fs.lastFinish["organization_id"])
	})

	t.Run("numeric cluster id", func(t *testing.T) {
		fs, c := newFakeServer(t)
		fs.finishBody = `{"cluster_id": 12345}`
		svc := newSession(t, c, "k", 1)

		id, err := svc.Finish(t.Context(), "handle-1", "")
		require.NoError(t, err)
		assert.Equal(t, "12345", id)
	})

	for name, body := range map[string]string{
		"missing cluster id": `{"status": "ok"}`,
		"null cluster id":    `{"cluster_id": null}`,
	} {
		t.Run(name, func(t *testing.T) {
			fs, c := newFakeServer(t)
			fs.finishBody = body
			svc := newSession(t, c, "k", 1)

			id, err := svc.Finish(t.Context(), "handle-1", "")
			assert.Empty(t, id)
			assert.ErrorIs(t, err, ErrMissingClusterID)
			assert.ErrorIs(t, err, apperr.ErrProtocolViolation)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&retryableError{err: errors.New("boom")}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &retryableError{err: errors.New("boom")})))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(ErrMissingClusterID))
}
