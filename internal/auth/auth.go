// Package auth turns the credentials in a HELLO frame into a verified player id.
package auth

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wasteland.fm/internal/protocol"
)

type Verifier interface {
	// Verify returns the player id the connection acts as. claimedID is the player_id field of
	// HELLO; only development verifiers honour it.
	Verify(token, claimedID string) (string, error)
}

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

func validID(id string) error {
	if !playerIDPattern.MatchString(id) {
		return protocol.Validation("invalid player id %q", id)
	}
	return nil
}

// DevVerifier trusts the claimed player id. It is used when no signing secret is configured.
type DevVerifier struct{}

func (DevVerifier) Verify(_, claimedID string) (string, error) {
	id := strings.TrimSpace(claimedID)
	if err := validID(id); err != nil {
		return "", err
	}
	return id, nil
}

// JWTVerifier accepts HS256 tokens whose subject is the player id.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("HS256 requires secret key")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

func (v *JWTVerifier) Verify(token, _ string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", protocol.Permission("missing token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", protocol.Permission("invalid token: %v", err)
	}
	if err := validID(claims.Subject); err != nil {
		return "", protocol.Permission("invalid token subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for playerID valid for ttl. Used by tooling and tests.
func (v *JWTVerifier) Issue(playerID string, ttl time.Duration) (string, error) {
	if err := validID(playerID); err != nil {
		return "", err
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   playerID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
