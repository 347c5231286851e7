package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	nonceSize = 12
	tagSize   = 16

	// RoleAdmin is the role claim required on operator endpoints.
	RoleAdmin = "admin"
)

// UnauthorizedError indicates missing or unusable credentials.
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

// ForbiddenError indicates a valid caller without the required role.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// VoterClaims is the decrypted payload of a voter token.
type VoterClaims struct {
	Subject string `json:"sub"`
	Role    string `json:"role,omitempty"`
	Pro     bool   `json:"pro,omitempty"`
}

func voterAEAD(secret string) (cipher.AEAD, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("voter token secret not configured")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func decodeToken(token string) ([]byte, error) {
	// query strings turn '+' into ' '
	token = strings.ReplaceAll(strings.TrimSpace(token), " ", "+")
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(token); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("token is not base64")
}

// DecryptVoterToken opens a base64 token laid out as nonce(12) || tag(16) ||
// ciphertext, sealed with AES-256-GCM under sha256(secret).
func DecryptVoterToken(token, secret string) (VoterClaims, error) {
	if strings.TrimSpace(token) == "" {
		return VoterClaims{}, UnauthorizedError{Reason: "voter token required"}
	}
	aead, err := voterAEAD(secret)
	if err != nil {
		return VoterClaims{}, UnauthorizedError{Reason: err.Error()}
	}
	data, err := decodeToken(token)
	if err != nil {
		return VoterClaims{}, UnauthorizedError{Reason: err.Error()}
	}
	if len(data) < nonceSize+tagSize+1 {
		return VoterClaims{}, UnauthorizedError{Reason: "token too short"}
	}
	nonce := data[:nonceSize]
	tag := data[nonceSize : nonceSize+tagSize]
	body := data[nonceSize+tagSize:]
	sealed := make([]byte, 0, len(body)+tagSize)
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return VoterClaims{}, UnauthorizedError{Reason: "token authentication failed"}
	}
	var claims VoterClaims
	if err := json.Unmarshal(plain, &claims); err != nil {
		return VoterClaims{}, UnauthorizedError{Reason: "token payload is not json"}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return VoterClaims{}, UnauthorizedError{Reason: "token subject missing"}
	}
	return claims, nil
}

// EncryptVoterToken produces a token DecryptVoterToken accepts.
func EncryptVoterToken(claims VoterClaims, secret string) (string, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("subject required")
	}
	aead, err := voterAEAD(secret)
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, plain, nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// VerifyCronSecret checks a bearer Authorization header against the shared
// cron secret. An empty secret disables the check entirely: every call fails.
func VerifyCronSecret(authz, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return UnauthorizedError{Reason: "cron secret not configured"}
	}
	token, ok := BearerToken(authz)
	if !ok {
		return UnauthorizedError{Reason: "bearer token required"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return UnauthorizedError{Reason: "invalid cron secret"}
	}
	return nil
}

// Principal is an authenticated operator.
type Principal struct {
	Subject string
	Role    string
}

type adminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// ParseAdminToken validates an HS256 JWT and returns its principal.
func ParseAdminToken(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, UnauthorizedError{Reason: "jwt secret not configured"}
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &adminClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, UnauthorizedError{Reason: "invalid token"}
	}
	if claims.Subject == "" {
		return Principal{}, UnauthorizedError{Reason: "subject claim required"}
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// RequireRole returns ForbiddenError unless p carries role.
func (p Principal) RequireRole(role string) error {
	if p.Role != role {
		return ForbiddenError{Role: role}
	}
	return nil
}

// IssueAdminToken signs an HS256 JWT for subject with the given role.
func IssueAdminToken(subject, role, secret string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Role: role,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
