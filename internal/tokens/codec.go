// Package tokens issues and verifies the signed entry codes attendees present at the gate.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers corrupt, unsigned and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is a well-formed token past its expiry.
	ErrExpiredToken = errors.New("expired token")
)

// Validity is how long after the event date a token is still accepted.
const Validity = 24 * time.Hour

// Claims binds a token to one attendee of one event.
type Claims struct {
	EventID    int64  `json:"event_id"`
	AttendeeID int64  `json:"attendee_id"`
	Email      string `json:"email"`
	RollNumber string `json:"roll_number"`
	jwt.RegisteredClaims
}

// Expiry returns the instant after which the token is rejected.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Codec signs and verifies entry tokens with a process-wide HMAC key.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the clock used for issued-at and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec. The secret is read-only after construction.
func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExpiryFor returns the expiry of a token issued for an event on eventDate.
func ExpiryFor(eventDate time.Time) time.Time {
	return eventDate.Add(Validity)
}

// Issue signs a token for the attendee that expires one day after eventDate.
func (c *Codec) Issue(eventID, attendeeID int64, email, rollNumber string, eventDate time.Time) (string, error) {
	if eventID <= 0 || attendeeID <= 0 {
		return "", fmt.Errorf("issue token: event and attendee ids are required")
	}
	claims := Claims{
		EventID:    eventID,
		AttendeeID: attendeeID,
		Email:      email,
		RollNumber: rollNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(ExpiryFor(eventDate)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry against the codec clock.
func (c *Codec) Verify(token string) (*Claims, error) {
	return c.VerifyAt(token, c.now())
}

// VerifyAt checks signature and expiry as of at. It never mutates state.
func (c *Codec) VerifyAt(token string, at time.Time) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return at }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.EventID <= 0 || claims.AttendeeID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
