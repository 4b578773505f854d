// Package auth verifies bearer tokens handed to the gateway. Tokens are
// minted elsewhere; only verification against the shared secret lives here.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/projecthub/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("auth secret not configured")
)

// Identity is the verified principal behind a connection.
type Identity struct {
	UserID    string
	Email     string
	Anonymous bool
}

// Verifier validates HS256 bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
	policy config.AuthPolicy

	anonSeq atomic.Int64
}

func NewVerifier(secret string, policy config.AuthPolicy) (*Verifier, error) {
	if secret == "" && policy != config.AuthPolicyPermissiveDev {
		return nil, ErrNoSecret
	}
	return &Verifier{secret: []byte(secret), policy: policy}, nil
}

// Verify parses and validates token. On verification failure under
// AuthPolicyPermissiveDev it returns a synthesized anonymous identity
// instead of an error; under AuthPolicyStrict it returns ErrInvalidToken.
func (v *Verifier) Verify(token string) (Identity, error) {
	id, err := v.verifyStrict(token)
	if err == nil {
		return id, nil
	}
	if v.policy == config.AuthPolicyPermissiveDev {
		return v.anonymous(), nil
	}
	return Identity{}, err
}

func (v *Verifier) verifyStrict(token string) (Identity, error) {
	if token == "" || len(v.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (any, error) {
		// HMAC family only; reject alg confusion.
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		// Some issuers put the user id under "id" instead of "sub".
		sub, _ = claims["id"].(string)
	}
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	return Identity{UserID: sub, Email: email}, nil
}

// anonymous synthesizes a time-based unique identity for permissive-dev mode.
func (v *Verifier) anonymous() Identity {
	seq := v.anonSeq.Add(1)
	id := "anon-" + strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatInt(seq, 10)
	return Identity{UserID: id, Anonymous: true}
}

// VerifyRelaySecret reports whether the presented relay secret matches the
// configured one. Constant-time; an empty configured secret never matches.
func VerifyRelaySecret(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
