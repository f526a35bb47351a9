package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"yellorn/internal/protocol"
)

// Claims is the JWT payload. UserID is serialized as "id" to match the
// tokens minted by the account service.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	AgentID  string `json:"agentId"`
	jwt.RegisteredClaims
}

// JWTConfig configures token verification and issuance.
type JWTConfig struct {
	Secret   string
	Issuer   string        // optional; when set, tokens must carry it
	TokenTTL time.Duration // lifetime of issued tokens
	Leeway   time.Duration // clock skew tolerated on exp/nbf
}

// JWTAuthenticator verifies HS256 bearer tokens.
type JWTAuthenticator struct {
	secret []byte
	cfg    JWTConfig
	parser *jwt.Parser
	now    func() time.Time
}

// NewJWTAuthenticator creates an authenticator. With an empty secret a random
// one is generated, so tokens only verify against this process.
func NewJWTAuthenticator(cfg JWTConfig) *JWTAuthenticator {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		log.Println("⚠️ No JWT secret configured, generating an ephemeral one")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Printf("⚠️ Failed to generate JWT secret: %v", err)
		}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	a := &JWTAuthenticator{secret: secret, cfg: cfg, now: time.Now}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	a.parser = jwt.NewParser(opts...)
	return a
}

// Authenticate verifies credential and returns the identity it carries.
// Tokens without a well-formed agentId are refused.
func (a *JWTAuthenticator) Authenticate(_ context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, &AuthenticationError{Kind: ErrNoCredential}
	}

	var claims Claims
	if _, err := a.parser.ParseWithClaims(credential, &claims, a.key); err != nil {
		return Identity{}, &AuthenticationError{Kind: ErrInvalidCredential, Cause: err}
	}
	if !protocol.ValidAgentID(claims.AgentID) {
		return Identity{}, &AuthenticationError{Kind: ErrInvalidCredential, Cause: errors.New("missing or malformed agentId claim")}
	}

	id := Identity{
		ID:       claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
		AgentID:  claims.AgentID,
	}
	if id.ID == "" {
		id.ID = claims.Subject
	}
	if id.Role == "" {
		id.Role = RoleAgent
	}
	return id, nil
}

func (a *JWTAuthenticator) key(*jwt.Token) (any, error) {
	return a.secret, nil
}

// Issue mints a signed token for id.
func (a *JWTAuthenticator) Issue(id Identity) (string, error) {
	now := a.now()
	claims := Claims{
		UserID:   id.ID,
		Username: id.Username,
		Role:     id.Role,
		AgentID:  id.AgentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
