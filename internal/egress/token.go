/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package egress issues and validates the signed tokens that prove a visitor
// was legitimately admitted through the waiting room.
//
// Tokens are not stored server-side. Validity is entirely a function of the
// HMAC signature and the declared time window; the still-extant liveness
// marker is checked separately by the heartbeat handler.
package egress

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SubjectQueueEgress is the subject claim of every token issued by this service.
const SubjectQueueEgress = "queue-egress"

// TokenTTL bounds the time window within which an issued token may be
// presented to the destination and on heartbeat calls.
const TokenTTL = 20 * time.Minute

// ErrInvalidToken is returned for any token that fails signature or
// time-window validation. The concrete cause is wrapped.
var ErrInvalidToken = errors.New("invalid egress token")

// Claims is the egress token payload.
//
// ActiveSessionTimeout ("cexp", minutes) carries the configured active-session
// timeout so the destination can independently reason about how long the
// visitor stays admitted without heartbeats.
type Claims struct {
	jwt.RegisteredClaims
	VisitorID            string `json:"qid"`
	ActiveSessionTimeout uint16 `json:"cexp"`
}

// Issuer mints and validates egress tokens with a server-held symmetric key.
type Issuer struct {
	signingKey           []byte
	issuerURL            string
	audienceURL          string
	activeSessionTimeout time.Duration
	now                  func() time.Time
}

// NewIssuer creates a token issuer.
// issuerURL is the public URL of this deployment, audienceURL is the
// destination application URL.
func NewIssuer(signingKey []byte, issuerURL, audienceURL string, activeSessionTimeout time.Duration) (*Issuer, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	return &Issuer{
		signingKey:           signingKey,
		issuerURL:            issuerURL,
		audienceURL:          audienceURL,
		activeSessionTimeout: activeSessionTimeout,
		now:                  time.Now,
	}, nil
}

// Issue mints a signed token for the admitted visitor.
func (i *Issuer) Issue(visitorID uuid.UUID) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   SubjectQueueEgress,
			Issuer:    i.issuerURL,
			Audience:  jwt.ClaimStrings{i.audienceURL},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
		VisitorID:            visitorID.String(),
		ActiveSessionTimeout: uint16(i.activeSessionTimeout / time.Minute),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign egress token: %w", err)
	}
	return token, nil
}

// Validate verifies the token signature and time-window claims and returns
// the embedded claims. Any failure is reported as ErrInvalidToken; the store
// is never consulted here.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return i.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(SubjectQueueEgress),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if _, err = uuid.Parse(claims.VisitorID); err != nil {
		return nil, fmt.Errorf("%w: malformed visitor id", ErrInvalidToken)
	}
	return claims, nil
}
