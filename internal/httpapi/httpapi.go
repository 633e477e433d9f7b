/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpapi wires the waiting-room operations to the HTTP surface.
package httpapi

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	texttemplate "text/template"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/queubious/queubious/internal/audit"
	"github.com/queubious/queubious/internal/egress"
	"github.com/queubious/queubious/internal/session"
	"github.com/queubious/queubious/internal/waitingroom"
)

// ErrorDomain is the error domain of the service's error responses.
const ErrorDomain = "Queubious"

// EgressTokenQueryParam is the query parameter carrying the egress token on
// the redirect to the destination.
const EgressTokenQueryParam = "egress_token"

// WaitingRoomPath is where enqueued visitors are redirected to.
const WaitingRoomPath = "/waiting-room"

// Error codes returned by the API.
var (
	ErrCodeNoSession    = "noSession"
	ErrCodeInvalidToken = "invalidToken"
)

//go:embed templates
var templatesFS embed.FS

// Handlers implements the HTTP surface of the waiting room.
type Handlers struct {
	engine           *waitingroom.Engine
	reporter         *waitingroom.Reporter
	store            waitingroom.Store
	issuer           *egress.Issuer
	sessions         *session.Manager
	emitter          audit.Emitter
	activeSessionTTL time.Duration
	destinationURL   string
	appURL           string
	staticHandler    http.Handler

	waitingRoomTmpl  *template.Template
	clientScriptTmpl *texttemplate.Template
}

// Opts contains parameters for NewHandlers.
type Opts struct {
	ActiveSessionTTL time.Duration
	DestinationURL   string
	AppURL           string
	StaticDir        string
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(
	engine *waitingroom.Engine,
	reporter *waitingroom.Reporter,
	store waitingroom.Store,
	issuer *egress.Issuer,
	sessions *session.Manager,
	emitter audit.Emitter,
	opts Opts,
) (*Handlers, error) {
	waitingRoomTmpl, err := template.ParseFS(templatesFS, "templates/waiting_room.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse waiting room template: %w", err)
	}
	clientScriptTmpl, err := texttemplate.ParseFS(templatesFS, "templates/queubious.js.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse client script template: %w", err)
	}
	return &Handlers{
		engine:           engine,
		reporter:         reporter,
		store:            store,
		issuer:           issuer,
		sessions:         sessions,
		emitter:          emitter,
		activeSessionTTL: opts.ActiveSessionTTL,
		destinationURL:   opts.DestinationURL,
		appURL:           opts.AppURL,
		staticHandler:    http.FileServer(http.Dir(opts.StaticDir)),
		waitingRoomTmpl:  waitingRoomTmpl,
		clientScriptTmpl: clientScriptTmpl,
	}, nil
}

// requestLogger returns the request-scoped logger set by the server
// middleware, falling back to a disabled logger outside the middleware chain.
func requestLogger(r *http.Request) log.FieldLogger {
	if logger := middleware.GetLoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return log.NewDisabledLogger()
}

// RegisterRoutes attaches all handlers to the router.
func (h *Handlers) RegisterRoutes(router chi.Router) {
	router.Get("/", h.handleIndex)
	router.Get("/status", h.handleStatus)
	router.Post("/heartbeat", h.handleHeartbeat)
	router.Get(WaitingRoomPath, h.handleWaitingRoom)
	router.Get("/queubious.js", h.handleClientScript)
	router.Get("/terminate/{sessionID}", h.handleTerminate)
	router.NotFound(h.handleStatic)
}

// handleIndex resolves the visitor identity, runs the admission decision, and
// redirects either to the waiting room or to the destination with a freshly
// minted egress token.
func (h *Handlers) handleIndex(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	sess, err := h.sessions.Get(r)
	if err != nil {
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if sess == nil {
		sess = session.New()
	}

	decision, err := h.engine.Decide(r.Context(), sess)
	if err != nil {
		logger.Error("admission decision failed", log.Error(err), log.String("visitor_id", sess.ID.String()))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if err = h.sessions.Save(rw, sess); err != nil {
		logger.Error("save visitor session", log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}

	if decision == waitingroom.DecisionEnqueue {
		http.Redirect(rw, r, WaitingRoomPath, http.StatusFound)
		return
	}

	// The visitor must never reach the destination without a verifiable
	// token, so a signing failure is fatal to the request.
	token, err := h.issuer.Issue(sess.ID)
	if err != nil {
		logger.Error("issue egress token", log.Error(err), log.String("visitor_id", sess.ID.String()))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	http.Redirect(rw, r, h.destinationRedirectURL(token), http.StatusFound)
}

func (h *Handlers) destinationRedirectURL(token string) string {
	return h.destinationURL + "?" + url.Values{EgressTokenQueryParam: {token}}.Encode()
}

// handleStatus reports the visitor's queue position and progress.
func (h *Handlers) handleStatus(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	sess, err := h.sessions.Get(r)
	if err != nil {
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if sess == nil {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeNoSession, "No visitor session.")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	status, err := h.reporter.Status(r.Context(), sess)
	if err != nil {
		logger.Error("compute visitor status", log.Error(err), log.String("visitor_id", sess.ID.String()))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	restapi.RespondJSON(rw, status, logger)
}

type heartbeatRequest struct {
	Token string `json:"token"`
}

// handleHeartbeat validates the egress token and extends the visitor's
// liveness marker. A marker that has already expired is never recreated here:
// a pruned visitor must go through promotion again.
func (h *Handlers) handleHeartbeat(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	var req heartbeatRequest
	if err := restapi.DecodeRequestJSON(r, &req); err != nil {
		restapi.RespondMalformedRequestOrInternalError(rw, ErrorDomain, err, logger)
		return
	}

	claims, err := h.issuer.Validate(req.Token)
	if err != nil {
		apiErr := restapi.NewError(ErrorDomain, ErrCodeInvalidToken, "Invalid egress token.")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	visitorID := uuid.MustParse(claims.VisitorID) // validated by the issuer
	refreshed, err := h.store.RefreshLivenessMarker(r.Context(), visitorID, h.activeSessionTTL)
	if err != nil {
		logger.Error("refresh liveness marker", log.Error(err), log.String("visitor_id", claims.VisitorID))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if !refreshed {
		logger.Info("heartbeat for pruned visitor ignored", log.String("visitor_id", claims.VisitorID))
	}
	rw.WriteHeader(http.StatusOK)
}

type waitingRoomViewData struct {
	Position    int64
	Progress    int
	WaitTime    string
	LastUpdated string
}

// handleWaitingRoom renders the waiting-room page from the status reporter.
func (h *Handlers) handleWaitingRoom(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	sess, err := h.sessions.Get(r)
	if err != nil {
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}

	status, err := h.reporter.Status(r.Context(), sess)
	if err != nil {
		logger.Error("compute visitor status", log.Error(err))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = h.waitingRoomTmpl.Execute(rw, waitingRoomViewData{
		Position:    status.Position,
		Progress:    status.Progress,
		WaitTime:    status.WaitTime,
		LastUpdated: status.LastUpdated,
	})
	if err != nil {
		logger.Error("render waiting room page", log.Error(err))
	}
}

// handleClientScript serves the embeddable script that keeps admitted
// visitors alive via heartbeats.
func (h *Handlers) handleClientScript(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	rw.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	if err := h.clientScriptTmpl.Execute(rw, struct{ AppURL string }{AppURL: h.appURL}); err != nil {
		logger.Error("render client script", log.Error(err))
	}
}

// handleTerminate force-removes a visitor from the active set.
// Removing an already-absent visitor still responds 200.
func (h *Handlers) handleTerminate(rw http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r)

	visitorID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		apiErr := restapi.NewError(ErrorDomain, restapi.ErrCodeNotFound, "Unknown session identifier.")
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	removed, err := h.store.RemoveActive(r.Context(), visitorID)
	if err != nil {
		logger.Error("remove visitor from active set", log.Error(err), log.String("visitor_id", visitorID.String()))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if err = h.store.DeleteLivenessMarker(r.Context(), visitorID); err != nil {
		logger.Error("delete liveness marker", log.Error(err), log.String("visitor_id", visitorID.String()))
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	if removed {
		h.emitter.Emit(audit.NewEvent(audit.EventTerminated, visitorID))
		logger.Info("terminated visitor session", log.String("visitor_id", visitorID.String()))
	}
	rw.WriteHeader(http.StatusOK)
}

// handleStatic serves static assets for all unmatched paths.
func (h *Handlers) handleStatic(rw http.ResponseWriter, r *http.Request) {
	h.staticHandler.ServeHTTP(rw, r)
}
