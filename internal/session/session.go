/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package session persists the visitor identity and waiting-room state
// in a signed (and optionally encrypted) browser cookie.
//
// The cookie is a cache of intent, not the source of truth: list membership
// is always re-derived from the shared store, and an unreadable or stale
// cookie simply degrades to StateUnseen.
package session

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

// CookieName is the name of the cookie that carries the visitor session.
const CookieName = "queubious_session"

// State describes where a visitor is in the admission lifecycle.
type State int

// Visitor session states.
const (
	// StateUnseen is a visitor that has not been through an admission decision yet.
	StateUnseen State = iota

	// StateEnqueued is a visitor waiting in the queue.
	// OriginalPosition is only meaningful in this state.
	StateEnqueued

	// StateAdmitted is a visitor that has been admitted to the destination.
	StateAdmitted
)

// Session is the per-browser state used by the admission engine.
type Session struct {
	// ID is the opaque visitor identifier. Generated once, immutable afterwards.
	ID uuid.UUID `json:"id"`

	State State `json:"state"`

	// OriginalPosition is the visitor's queue position captured at enqueue
	// time (1-based). It must never be recomputed: it is the denominator of
	// the progress percentage and recomputing it would make progress
	// non-monotonic.
	OriginalPosition int64 `json:"originalPosition"`
}

// Manager encodes and decodes visitor sessions.
type Manager struct {
	codec *securecookie.SecureCookie
}

// NewManager creates a session manager. hashKey authenticates the cookie,
// blockKey (optional, may be nil) additionally encrypts it.
func NewManager(hashKey, blockKey []byte) (*Manager, error) {
	if len(hashKey) == 0 {
		return nil, errors.New("session hash key is required")
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Manager{codec: sc}, nil
}

// Get returns the session stored in the request cookie.
// A missing, expired, or undecodable cookie yields (nil, nil): the caller
// must treat such a visitor as unseen.
func (m *Manager) Get(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, nil // http.ErrNoCookie is the only error r.Cookie returns
	}
	var sess Session
	if err = m.codec.Decode(CookieName, cookie.Value, &sess); err != nil {
		return nil, nil
	}
	if sess.ID == uuid.Nil {
		return nil, nil
	}
	return &sess, nil
}

// Save writes the session into the response cookie.
func (m *Manager) Save(rw http.ResponseWriter, sess *Session) error {
	encoded, err := m.codec.Encode(CookieName, sess)
	if err != nil {
		return err
	}
	http.SetCookie(rw, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// New creates a fresh unseen session with a newly generated visitor ID.
func New() *Session {
	return &Session{ID: uuid.New(), State: StateUnseen}
}
