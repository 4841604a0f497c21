package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/arraniry/storepay/internal/apperrors"
)

const (
	defaultTokenTTL      = time.Hour
	defaultSigningMethod = "HS256"
)

type Config struct {
	// Secret key to sign admin tokens
	// Required to be set
	SecretKey string

	// Bcrypt hash of the admin password (generate with cmd/genhash)
	// Required to be set
	PasswordHash string

	// JWT MAC algorithm and token lifetime
	// If not set the defaults are used
	Alg      string
	TokenTTL time.Duration
}

// Service issues and verifies bearer tokens for the admin API
type Service struct {
	key          []byte
	passwordHash []byte
	alg          jwt.SigningMethod
	tokenTTL     time.Duration
}

func NewService(cfg Config) (*Service, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.PasswordHash == "" {
		return nil, errors.New("admin password hash must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}

	return &Service{
		key:          []byte(cfg.SecretKey),
		passwordHash: []byte(cfg.PasswordHash),
		alg:          jwt.GetSigningMethod(cfg.Alg),
		tokenTTL:     cfg.TokenTTL,
	}, nil
}

// Login checks the admin password and returns a signed token
func (s *Service) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", apperrors.ErrAdminPasswordWrong
	}

	now := time.Now().Truncate(time.Second)
	token := jwt.NewWithClaims(s.alg, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// VerifyToken validates signature, algorithm and expiry of a bearer token
func (s *Service) VerifyToken(tokenString string) error {
	_, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{s.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	return nil
}
