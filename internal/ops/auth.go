// Package ops authenticates gateway operators for the read-only usage
// introspection endpoints. The operator principal is config-defined;
// there is no user CRUD in this service.
package ops

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	email        string
	passwordHash string
	jwtSecret    []byte
	jwtExpiry    time.Duration
}

func NewAuthService(email, passwordBcrypt, jwtSecret string, expiry time.Duration) *AuthService {
	return &AuthService{
		email:        email,
		passwordHash: passwordBcrypt,
		jwtSecret:    []byte(jwtSecret),
		jwtExpiry:    expiry,
	}
}

// Login verifies the operator credentials and issues a JWT.
func (s *AuthService) Login(email, password string) (string, error) {
	if s.email == "" || email != s.email {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  s.email,
		"role": "ops",
		"exp":  time.Now().Add(s.jwtExpiry).Unix(),
		"iat":  time.Now().Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken parses and verifies an ops JWT and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
