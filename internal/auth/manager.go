// Package auth issues and verifies the credentials guarding the
// coordinator: per-bot JWTs for the WebSocket data plane and
// bcrypt-hashed operator API keys for the HTTP control plane.
package auth

import (
	"crypto/rand"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/clawbot/coordinator/pkg/config"
)

// Claims are the JWT claims carried by a bot token. The subject is the
// bot ID; a connection may only act as the bot its token was minted
// for.
type Claims struct {
	BotID string `json:"bot_id"`
	jwt.RegisteredClaims
}

// Manager mints and validates bot tokens and checks operator API keys.
type Manager struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	keyHashes []string
	enabled   bool
}

// NewManager creates a manager from the security configuration. A
// missing JWT secret gets an ephemeral random one, so tokens then do
// not survive a restart.
func NewManager(cfg config.SecurityConfig) *Manager {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = generateRandomSecret(32)
		if cfg.EnableAuth {
			log.Printf("[Auth] no jwt_secret configured, using an ephemeral secret; bot tokens will not survive restarts")
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		jwtSecret: []byte(secret),
		tokenTTL:  ttl,
		keyHashes: cfg.APIKeyHashes,
		enabled:   cfg.EnableAuth,
	}
}

// Enabled reports whether requests must present credentials.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// BotToken mints a signed HS256 token for botID.
func (m *Manager) BotToken(botID string) (string, error) {
	if botID == "" {
		return "", fmt.Errorf("mint token: empty bot id")
	}
	now := time.Now()
	claims := &Claims{
		BotID: botID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "clawbot-coordinator",
			Subject:   botID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.jwtSecret)
}

// ValidateToken verifies a token's signature and expiry and returns
// its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("invalid token: missing subject")
	}
	return claims, nil
}

// ValidateBotToken verifies the token and that its subject matches
// botID.
func (m *Manager) ValidateBotToken(tokenString, botID string) error {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return err
	}
	if claims.Subject != botID {
		return fmt.Errorf("token minted for bot %s, not %s", claims.Subject, botID)
	}
	return nil
}

// VerifyAPIKey checks a presented operator key against the configured
// bcrypt hashes.
func (m *Manager) VerifyAPIKey(key string) bool {
	if key == "" {
		return false
	}
	for _, hash := range m.keyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return true
		}
	}
	return false
}

// HashAPIKey returns the bcrypt hash of an operator key, for the
// security.api_key_hashes config list.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
