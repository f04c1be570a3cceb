// Package auth implements the shared-secret gate in front of publishing,
// revoking and joining rooms.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/blake2b"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	DefaultTokenTTL = 24 * time.Hour

	scopeClaim = "scope"
	expClaim   = "exp"
	iatClaim   = "iat"
	clipScope  = "clip"
)

// Gate checks tokens against a single configured secret. The secret may be
// given in plain text or as a bcrypt hash. A gate with neither is open.
// Besides the secret itself, the gate accepts HS256 tokens it issued.
type Gate struct {
	secret     []byte
	secretHash []byte
	signingKey []byte
	// digest of the last secret that matched secretHash
	accepted atomic.Pointer[[blake2b.Size256]byte]
}

func NewGate(secret, secretHash string) *Gate {
	g := &Gate{}
	if secret != "" {
		g.secret = []byte(secret)
	}
	if secretHash != "" {
		g.secretHash = []byte(secretHash)
	}

	if g.Enabled() {
		material := g.secret
		if material == nil {
			material = g.secretHash
		}
		key := blake2b.Sum256(append([]byte("cloudclip-token:"), material...))
		g.signingKey = key[:]
	}

	return g
}

func (g *Gate) Enabled() bool {
	return g != nil && (len(g.secret) > 0 || len(g.secretHash) > 0)
}

// Check returns nil when the gate is open or token is valid.
func (g *Gate) Check(token string) error {
	if !g.Enabled() {
		return nil
	}

	if token == "" {
		return ErrUnauthorized
	}

	if strings.Count(token, ".") == 2 {
		if err := g.verifyToken(token); err == nil {
			return nil
		}
	}

	if g.matchSecret(token) {
		return nil
	}

	return ErrUnauthorized
}

func (g *Gate) matchSecret(provided string) bool {
	if len(g.secret) > 0 {
		return subtle.ConstantTimeCompare(g.secret, []byte(provided)) == 1
	}

	sum := blake2b.Sum256([]byte(provided))
	if known := g.accepted.Load(); known != nil && subtle.ConstantTimeCompare(known[:], sum[:]) == 1 {
		return true
	}

	if bcrypt.CompareHashAndPassword(g.secretHash, []byte(provided)) != nil {
		return false
	}
	g.accepted.Store(&sum)
	return true
}

// IssueToken exchanges the shared secret for a signed token valid for ttl.
func (g *Gate) IssueToken(secret string, ttl time.Duration) (string, time.Time, error) {
	if !g.Enabled() || !g.matchSecret(secret) {
		return "", time.Time{}, ErrUnauthorized
	}

	now := time.Now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		scopeClaim: clipScope,
		iatClaim:   now.Unix(),
		expClaim:   exp.Unix(),
	})

	signed, err := token.SignedString(g.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, exp, nil
}

func (g *Gate) verifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.signingKey, nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims[scopeClaim] != clipScope {
		return fmt.Errorf("invalid token claims")
	}

	return nil
}

// HashSecret returns a bcrypt hash suitable for the secret hash setting.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(hash), err
}
