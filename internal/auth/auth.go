// Package auth validates bearer tokens and issues operator tokens for Solace.
//
// End users authenticate with HS256 tokens minted by the identity provider,
// verified against a shared secret. Operators exchange the admin API key for
// an Ed25519 (EdDSA) token signed by this service. Keys can be loaded from
// PEM files or auto-generated for development.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role is the authorization level carried by a token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const issuer = "solace"

// AdminSubject is the subject of tokens issued for the operator API key.
var AdminSubject = uuid.NewSHA1(uuid.NameSpaceURL, []byte("solace:admin"))

// Claims extends jwt.RegisteredClaims with the caller's role. The subject is
// always the caller's user UUID.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// UserID returns the subject as a UUID. ValidateToken guarantees it parses.
func (c *Claims) UserID() uuid.UUID {
	id, _ := uuid.Parse(c.Subject)
	return id
}

// IsAdmin reports whether the claims grant operator access.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// JWTManager handles JWT creation and validation.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiration time.Duration

	idpSecret   []byte
	idpAudience string
}

// NewJWTManager creates a JWTManager from PEM key files.
// If paths are empty, generates an ephemeral key pair (for development).
func NewJWTManager(privateKeyPath, publicKeyPath string, expiration time.Duration) (*JWTManager, error) {
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{privateKey: priv, publicKey: pub, expiration: expiration}, nil
	}

	edPriv, err := readPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	edPub, err := readPublicKey(publicKeyPath)
	if err != nil {
		return nil, err
	}

	// Catch a private key from one environment deployed with the public key of another.
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &JWTManager{privateKey: edPriv, publicKey: edPub, expiration: expiration}, nil
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}
	return edKey, nil
}

func readPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}
	return edKey, nil
}

// WithIdP enables validation of identity-provider tokens signed with the
// shared HS256 secret and carrying audience. An empty secret leaves IdP
// tokens rejected.
func (m *JWTManager) WithIdP(secret, audience string) *JWTManager {
	if secret != "" {
		m.idpSecret = []byte(secret)
	}
	m.idpAudience = audience
	return m
}

// IssueToken creates a signed EdDSA token for subject with the given role.
func (m *JWTManager) IssueToken(subject uuid.UUID, role Role) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a bearer token, returning the claims.
// EdDSA tokens must come from this service; HS256 tokens must come from the
// configured identity provider and always carry RoleUser.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, m.keyFor,
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	switch token.Method.Alg() {
	case jwt.SigningMethodEdDSA.Alg():
		if claims.Issuer != issuer {
			return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
		}
		if !slices.Contains(claims.Audience, issuer) {
			return nil, fmt.Errorf("auth: invalid audience")
		}
		if claims.Role != RoleAdmin && claims.Role != RoleUser {
			return nil, fmt.Errorf("auth: invalid role: %q", claims.Role)
		}
	default:
		if m.idpAudience != "" && !slices.Contains(claims.Audience, m.idpAudience) {
			return nil, fmt.Errorf("auth: invalid audience")
		}
		claims.Role = RoleUser
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("auth: invalid subject (expected UUID): %w", err)
	}
	return claims, nil
}

func (m *JWTManager) keyFor(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodEd25519:
		return m.publicKey, nil
	case *jwt.SigningMethodHMAC:
		if len(m.idpSecret) == 0 {
			return nil, fmt.Errorf("auth: identity provider tokens are not accepted")
		}
		return m.idpSecret, nil
	default:
		return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
	}
}
