/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/log"

	"github.com/queubious/queubious/internal/audit"
	"github.com/queubious/queubious/internal/egress"
	"github.com/queubious/queubious/internal/session"
	"github.com/queubious/queubious/internal/waitingroom"
)

const (
	testAppURL           = "https://queue.example.com"
	testDestinationURL   = "https://shop.example.com"
	testActiveSessionTTL = 5 * time.Minute
)

type recordingEmitter struct {
	events []audit.Event
}

func (e *recordingEmitter) Emit(event audit.Event) {
	e.events = append(e.events, event)
}

func (e *recordingEmitter) Close() {}

type testEnv struct {
	router   chi.Router
	store    *waitingroom.RedisStore
	mr       *miniredis.Miniredis
	issuer   *egress.Issuer
	sessions *session.Manager
	emitter  *recordingEmitter
}

func newTestEnv(t *testing.T, capacity int64) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := waitingroom.NewRedisStore(client)
	require.NoError(t, store.SetCapacity(context.Background(), capacity))

	issuer, err := egress.NewIssuer([]byte("test-signing-key"), testAppURL, testDestinationURL, testActiveSessionTTL)
	require.NoError(t, err)

	sessions, err := session.NewManager([]byte("0123456789abcdef0123456789abcdef"), nil)
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	metrics := waitingroom.NewPrometheusMetrics()
	engine := waitingroom.NewEngine(store, emitter, testActiveSessionTTL, metrics)
	reporter := waitingroom.NewReporter(store)

	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "style.css"), []byte("body{}"), 0o600))

	handlers, err := NewHandlers(engine, reporter, store, issuer, sessions, emitter, Opts{
		ActiveSessionTTL: testActiveSessionTTL,
		DestinationURL:   testDestinationURL,
		AppURL:           testAppURL,
		StaticDir:        staticDir,
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	handlers.RegisterRoutes(router)

	return &testEnv{router: router, store: store, mr: mr, issuer: issuer, sessions: sessions, emitter: emitter}
}

func (env *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", session.CookieName)
	return nil
}

func TestHandleIndex_AdmitsFirstVisitor(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, testDestinationURL, location.Scheme+"://"+location.Host+location.Path)

	token := location.Query().Get(EgressTokenQueryParam)
	require.NotEmpty(t, token)
	claims, err := env.issuer.Validate(token)
	require.NoError(t, err)

	visitorID := uuid.MustParse(claims.VisitorID)
	activeLen, err := env.store.ActiveLen(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), activeLen)
	alive, err := env.store.LivenessMarkerExists(context.Background(), visitorID)
	require.NoError(t, err)
	require.True(t, alive)

	cookie := sessionCookie(t, rec)
	require.NotEmpty(t, cookie.Value)
}

func TestHandleIndex_EnqueuesWhenFull(t *testing.T) {
	env := newTestEnv(t, 1)

	// First visitor takes the only active slot.
	first := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusFound, first.Code)

	// Second visitor goes to the waiting room.
	second := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusFound, second.Code)
	require.Equal(t, WaitingRoomPath, second.Header().Get("Location"))

	require.Len(t, env.emitter.events, 1)
	require.Equal(t, audit.EventEnqueued, env.emitter.events[0].Type)

	// The enqueued visitor polls their status with the cookie they were given.
	statusReq := httptest.NewRequest(http.MethodGet, "/status", nil)
	statusReq.AddCookie(sessionCookie(t, second))
	statusRec := env.do(t, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status waitingroom.Status
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	require.Equal(t, int64(1), status.Position)
	require.Equal(t, 0, status.Progress, "no progress right after enqueue")
	require.NotEmpty(t, status.WaitTime)
}

func TestHandleIndex_RepeatedVisitIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 1)

	env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	first := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := sessionCookie(t, first)

	// Reloading the entry page must not re-append the visitor to the queue.
	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.AddCookie(cookie)
	rec := env.do(t, again)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, WaitingRoomPath, rec.Header().Get("Location"))

	queueLen, err := env.store.QueueLen(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), queueLen)
	require.Len(t, env.emitter.events, 1)
}

func TestHandleStatus_NoSession(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), ErrCodeNoSession)
}

func heartbeatReq(t *testing.T, token string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]string{"token": token})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/heartbeat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleHeartbeat_ExtendsLivenessMarker(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	visitorID := uuid.New()
	require.NoError(t, env.store.AddActive(ctx, visitorID))
	require.NoError(t, env.store.SetLivenessMarker(ctx, visitorID, testActiveSessionTTL))

	token, err := env.issuer.Issue(visitorID)
	require.NoError(t, err)

	env.mr.FastForward(testActiveSessionTTL - time.Minute)

	rec := env.do(t, heartbeatReq(t, token))
	require.Equal(t, http.StatusOK, rec.Code)

	// Past the original deadline but within the refreshed one.
	env.mr.FastForward(2 * time.Minute)
	alive, err := env.store.LivenessMarkerExists(ctx, visitorID)
	require.NoError(t, err)
	require.True(t, alive, "heartbeat must have pushed the liveness deadline out")
}

func TestHandleHeartbeat_InvalidToken(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, heartbeatReq(t, "not-a-token"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), ErrCodeInvalidToken)
}

func TestHandleHeartbeat_PrunedVisitorIsNotResurrected(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	// A valid token whose owner has already been pruned: the heartbeat is
	// acknowledged but must not recreate the marker.
	visitorID := uuid.New()
	token, err := env.issuer.Issue(visitorID)
	require.NoError(t, err)

	rec := env.do(t, heartbeatReq(t, token))
	require.Equal(t, http.StatusOK, rec.Code)

	alive, err := env.store.LivenessMarkerExists(ctx, visitorID)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestHandleTerminate(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	visitorID := uuid.New()
	require.NoError(t, env.store.AddActive(ctx, visitorID))
	require.NoError(t, env.store.SetLivenessMarker(ctx, visitorID, time.Hour))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/terminate/"+visitorID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	activeLen, err := env.store.ActiveLen(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), activeLen)
	alive, err := env.store.LivenessMarkerExists(ctx, visitorID)
	require.NoError(t, err)
	require.False(t, alive, "termination must drop the liveness marker too")

	require.Len(t, env.emitter.events, 1)
	require.Equal(t, audit.EventTerminated, env.emitter.events[0].Type)
	require.Equal(t, visitorID.String(), env.emitter.events[0].VisitorID)

	// Terminating again is a no-op, still 200, no extra audit event.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/terminate/"+visitorID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.emitter.events, 1)
}

func TestHandleTerminate_MalformedID(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/terminate/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWaitingRoom_RendersPage(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, WaitingRoomPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	require.Contains(t, rec.Body.String(), "/status")
}

func TestHandleClientScript(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/queubious.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/javascript")
	require.Contains(t, rec.Body.String(), testAppURL)
	require.Contains(t, rec.Body.String(), "/heartbeat")
}

func TestHandleStatic(t *testing.T) {
	env := newTestEnv(t, 1)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "body{}", strings.TrimSpace(rec.Body.String()))
}

func TestEndToEnd_QueueDrainsThroughReconciliation(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	// Occupy the room, then enqueue a second visitor.
	env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	second := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := sessionCookie(t, second)

	// The occupant's marker expires; one reconciliation tick evicts them and
	// promotes the waiting visitor.
	env.mr.FastForward(testActiveSessionTTL + time.Minute)
	reconciler := waitingroom.NewReconciler(env.store, testActiveSessionTTL,
		log.NewDisabledLogger(), waitingroom.NewPrometheusMetrics(), waitingroom.ReconcilerOpts{})
	require.NoError(t, reconciler.Run(ctx))

	statusReq := httptest.NewRequest(http.MethodGet, "/status", nil)
	statusReq.AddCookie(cookie)
	statusRec := env.do(t, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status waitingroom.Status
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	require.Equal(t, int64(0), status.Position, "a promoted visitor is through the queue")
	require.Equal(t, 100, status.Progress)

	// Returning to the entry page (the waiting-room script does this on
	// position 0), the promoted visitor gets their egress token instead of
	// being re-queued.
	entryReq := httptest.NewRequest(http.MethodGet, "/", nil)
	entryReq.AddCookie(cookie)
	entryRec := env.do(t, entryReq)
	require.Equal(t, http.StatusFound, entryRec.Code)

	location, err := url.Parse(entryRec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, testDestinationURL, location.Scheme+"://"+location.Host+location.Path)
	claims, err := env.issuer.Validate(location.Query().Get(EgressTokenQueryParam))
	require.NoError(t, err)

	visitorID := uuid.MustParse(claims.VisitorID)
	queueLen, err := env.store.QueueLen(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), queueLen, "promoted visitor must not be re-enqueued")
	active, err := env.store.ActiveWindow(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{visitorID}, active)
}
