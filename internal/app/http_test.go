package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobby/api/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

type errorBody struct {
	Code    string   `json:"code"`
	Error   string   `json:"error"`
	Details []string `json:"details"`
}

type testServer struct {
	svc     *Service
	fs      *fakeStore
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	return &testServer{svc: svc, fs: fs, handler: NewHTTPServer(svc, "*", nil).Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(IdentityHeader, user)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestHTTPJoinAndListParticipants(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "alice"})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "alice"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, rr).Code)

	rr = ts.do(t, http.MethodPost, "/participants", "", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{`"name" is required`}, decodeError(t, rr).Details)

	rr = ts.do(t, http.MethodPost, "/participants", "", `{"name": 42}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ts.do(t, http.MethodPost, "/participants", "", `not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "INVALID_BODY", decodeError(t, rr).Code)

	rr = ts.do(t, http.MethodGet, "/participants", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var participants []store.Participant
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &participants))
	require.Len(t, participants, 1)
	assert.Equal(t, "alice", participants[0].Name)
	assert.NotZero(t, participants[0].LastStatus)
}

func TestHTTPPostAndListMessages(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "alice"}).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "bob"}).Code)

	rr := ts.do(t, http.MethodPost, "/messages", "alice", PostInput{To: "bob", Text: "psst", Type: "private_message"})
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(t, http.MethodPost, "/messages", "alice", PostInput{To: "bob", Text: "psst", Type: "status"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{`"type" must be one of [message private_message]`}, decodeError(t, rr).Details)

	rr = ts.do(t, http.MethodPost, "/messages", "", map[string]string{"text": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	details := decodeError(t, rr).Details
	assert.Contains(t, details, `"user" header is required`)
	assert.Contains(t, details, `"to" is required`)
	assert.Contains(t, details, `"type" is required`)

	rr = ts.do(t, http.MethodPost, "/messages", "mallory", PostInput{To: "bob", Text: "hi", Type: "message"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "UNKNOWN_SENDER", decodeError(t, rr).Code)

	rr = ts.do(t, http.MethodGet, "/messages", "bob", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 3)
	assert.Equal(t, "psst", msgs[2]["text"])
	assert.NotEmpty(t, msgs[2]["_id"])

	rr = ts.do(t, http.MethodGet, "/messages?limit=1", "carol", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "entered", msgs[0]["text"])
	assert.Equal(t, "bob", msgs[0]["from"])
}

func TestHTTPListMessagesRejectsBadLimit(t *testing.T) {
	ts := newTestServer(t)
	for _, limit := range []string{"0", "-3", "abc", "1.5", ""} {
		rr := ts.do(t, http.MethodGet, "/messages?limit="+limit, "bob", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "limit %q", limit)
	}
}

func TestHTTPHeartbeat(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "alice"}).Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/status", "alice", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/status", "bob", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/status", "", nil).Code)
}

func TestHTTPEditAndDeleteMessage(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "alice"}).Code)
	msg, err := ts.svc.PostMessage(context.Background(), "alice", PostInput{To: store.Broadcast, Text: "hello", Type: "message"})
	require.NoError(t, err)
	path := "/messages/" + msg.ID

	rr := ts.do(t, http.MethodPut, path, "bob", map[string]string{"type": "bogus"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(t, http.MethodPut, "/messages/unknown", "alice", map[string]string{"text": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodPut, path, "alice", map[string]string{"type": "status"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = ts.do(t, http.MethodPut, path, "alice", map[string]string{"text": "edited"})
	require.Equal(t, http.StatusOK, rr.Code)
	var edited store.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &edited))
	assert.Equal(t, "edited", edited.Text)
	assert.Equal(t, store.Broadcast, edited.To)

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodDelete, path, "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodDelete, path, "bob", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete, path, "alice", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, "alice", nil).Code)
}

func TestHTTPEditChecksOwnerBeforeBody(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/participants", "", map[string]string{"name": "alice"}).Code)
	msg, err := ts.svc.PostMessage(context.Background(), "alice", PostInput{To: store.Broadcast, Text: "hello", Type: "message"})
	require.NoError(t, err)
	path := "/messages/" + msg.ID

	tests := []struct {
		name   string
		path   string
		user   string
		body   any
		status int
	}{
		{"non-owner wrong type", path, "bob", `{"text":5}`, http.StatusUnauthorized},
		{"non-owner empty body", path, "bob", nil, http.StatusUnauthorized},
		{"non-owner not json", path, "bob", `not json`, http.StatusUnauthorized},
		{"unknown id wrong type", "/messages/unknown", "alice", `{"text":5}`, http.StatusNotFound},
		{"unknown id empty body", "/messages/unknown", "alice", nil, http.StatusNotFound},
		{"owner wrong type", path, "alice", `{"text":5}`, http.StatusUnprocessableEntity},
		{"owner empty body", path, "alice", nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPut, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	stored, err := ts.fs.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Text)
}

func TestHTTPStoreFailureIs500(t *testing.T) {
	ts := newTestServer(t)
	ts.fs.listParticipantsFn = func(context.Context) ([]store.Participant, error) {
		return nil, errors.New("connection refused")
	}

	rr := ts.do(t, http.MethodGet, "/participants", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "STORE_ERROR", body.Code)
	assert.NotContains(t, body.Error, "connection refused")
}

func TestHTTPMiddleware(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodOptions, "/messages", "", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "User")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rr = ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

type fakeStreamer struct {
	user string
}

func (f *fakeStreamer) ServeWS(w http.ResponseWriter, _ *http.Request, user string) error {
	f.user = user
	w.WriteHeader(http.StatusSwitchingProtocols)
	return nil
}

func TestHTTPStream(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)
	streamer := &fakeStreamer{}
	handler := NewHTTPServer(svc, "*", streamer).Handler()

	req := httptest.NewRequest(http.MethodGet, "/messages/stream?user=bob", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "bob", streamer.user)

	req = httptest.NewRequest(http.MethodGet, "/messages/stream", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = httptest.NewRecorder()
	NewHTTPServer(svc, "*", nil).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/messages/stream?user=bob", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
