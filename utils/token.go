package utils

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type JwtCustomClaim struct {
	ID   int    `json:"id"`
	Role string `json:"role"`
	jwt.StandardClaims
}

var (
	jwtSecretMu sync.RWMutex
	jwtSecret   = []byte(os.Getenv("API_SECRET"))
)

// SetJwtSecret replaces the HMAC secret used to sign and validate tokens.
func SetJwtSecret(secret string) {
	jwtSecretMu.Lock()
	defer jwtSecretMu.Unlock()
	jwtSecret = []byte(secret)
}

func currentJwtSecret() []byte {
	jwtSecretMu.RLock()
	defer jwtSecretMu.RUnlock()
	return jwtSecret
}

func JwtGenerate(userID int, role string, lifespan time.Duration) (string, error) {
	secret := currentJwtSecret()
	if len(secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		ID:   userID,
		Role: role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(lifespan).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(secret)
	if err != nil {
		return "", err
	}

	return token, nil
}

func JwtValidate(token string) (*jwt.Token, error) {
	secret := currentJwtSecret()
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
}
