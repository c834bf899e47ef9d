package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrBadCredentials is returned when the admin login does not match.
var ErrBadCredentials = errors.New("invalid username or password")

// Claims represents the admin JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Credentials is the configured admin account.
type Credentials struct {
	Username string
	Password string
}

// Login verifies the submitted credentials in constant time and issues an
// access token on success.
func Login(creds Credentials, username, password, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(creds.Username), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(creds.Password), []byte(password)) == 1
	if creds.Password == "" || !userOK || !passOK {
		return "", time.Time{}, ErrBadCredentials
	}
	return Issue(username, "admin", issuer, key, ttl)
}

// Issue signs an access token for the subject.
func Issue(subject, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
