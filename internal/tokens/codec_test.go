package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventDate = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func TestIssueVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		eventID    int64
		attendeeID int64
		email      string
		roll       string
	}{
		{"plain", 1, 10, "a@example.com", "R1"},
		{"empty email", 7, 99, "", "22B81A0501"},
		{"unicode name in email", 3, 5, "ñandú@example.com", "r-2"},
	}
	codec := NewCodec("s3cret", WithClock(func() time.Time { return eventDate.Add(-48 * time.Hour) }))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := codec.Issue(tt.eventID, tt.attendeeID, tt.email, tt.roll, eventDate)
			require.NoError(t, err)

			claims, err := codec.Verify(tok)
			require.NoError(t, err)
			assert.Equal(t, tt.eventID, claims.EventID)
			assert.Equal(t, tt.attendeeID, claims.AttendeeID)
			assert.Equal(t, tt.email, claims.Email)
			assert.Equal(t, tt.roll, claims.RollNumber)
			assert.True(t, claims.Expiry().Equal(eventDate.Add(24*time.Hour)))
		})
	}
}

func TestExpiryBoundary(t *testing.T) {
	codec := NewCodec("s3cret", WithClock(func() time.Time { return eventDate }))
	tok, err := codec.Issue(1, 2, "a@example.com", "R1", eventDate)
	require.NoError(t, err)

	expiry := eventDate.Add(24 * time.Hour)

	_, err = codec.VerifyAt(tok, expiry.Add(-time.Second))
	assert.NoError(t, err)

	_, err = codec.VerifyAt(tok, expiry.Add(time.Second))
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestIssueDiffersOnlyByIssuedAt(t *testing.T) {
	now := eventDate.Add(-time.Hour)
	codec := NewCodec("k", WithClock(func() time.Time { return now }))

	a, err := codec.Issue(1, 2, "e", "r", eventDate)
	require.NoError(t, err)
	b, err := codec.Issue(1, 2, "e", "r", eventDate)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same inputs at the same instant sign identically")

	now = now.Add(2 * time.Second)
	c, err := codec.Issue(1, 2, "e", "r", eventDate)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestVerifyRejects(t *testing.T) {
	codec := NewCodec("right-key", WithClock(func() time.Time { return eventDate }))
	tok, err := codec.Issue(1, 2, "a@example.com", "R1", eventDate)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	other := NewCodec("wrong-key", WithClock(func() time.Time { return eventDate }))

	cases := map[string]struct {
		codec *Codec
		token string
	}{
		"empty":         {codec, ""},
		"garbage":       {codec, "not-a-token"},
		"tampered sig":  {codec, tampered},
		"wrong key":     {other, tok},
		"truncated":     {codec, parts[0] + "." + parts[1]},
		"alg none":      {codec, "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + "."},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.codec.Verify(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestExpiredTokenWithWrongKeyIsInvalid(t *testing.T) {
	issuer := NewCodec("a", WithClock(func() time.Time { return eventDate }))
	tok, err := issuer.Issue(1, 2, "", "R", eventDate)
	require.NoError(t, err)

	_, err = NewCodec("b").VerifyAt(tok, eventDate.Add(72*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRequiresIDs(t *testing.T) {
	_, err := NewCodec("k").Issue(0, 1, "", "", eventDate)
	assert.Error(t, err)
}
