// ABOUTME: JWT session tokens and hashed API keys for the HTTP surface
// ABOUTME: Sessions are HS256 JWTs; API keys are stored as sha256 digests

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// SessionCookie is the cookie carrying the session JWT.
const SessionCookie = "talkto_session"

// keyPrefixLen is how much of an API key is kept in clear for display.
const keyPrefixLen = 12

// SessionClaims is the identity carried by a session token.
type SessionClaims struct {
	UserID      string
	WorkspaceID string
}

// JWTVerifier signs and verifies HS256 session tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the given signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the session claims. The user ID
// lives in "sub" and the workspace in "wsp".
func (v *JWTVerifier) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	wsp, ok := claims["wsp"].(string)
	if !ok || wsp == "" {
		return nil, fmt.Errorf("%w: wsp", ErrMissingClaim)
	}

	return &SessionClaims{UserID: sub, WorkspaceID: wsp}, nil
}

// Generate creates a session token for the given user and workspace.
func (v *JWTVerifier) Generate(userID, workspaceID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"wsp": workspaceID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// GenerateAPIKey mints a new bearer key. Only the sha256 digest and a short
// display prefix are meant to be persisted; the full token is shown once.
func GenerateAPIKey() (token, hash, prefix string, err error) {
	raw := make([]byte, 24)
	if _, err = rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generating api key: %w", err)
	}
	token = "ttk_" + hex.EncodeToString(raw)
	return token, HashToken(token), token[:keyPrefixLen], nil
}

// GenerateInviteToken mints a workspace invite token. Invites are looked up
// by the token itself, so no digest is involved.
func GenerateInviteToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating invite token: %w", err)
	}
	return "tti_" + hex.EncodeToString(raw), nil
}

// HashToken returns the hex sha256 digest used for API key lookup.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
