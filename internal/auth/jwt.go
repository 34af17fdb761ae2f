package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles a device can register with.
const (
	RoleScanner = "scanner"
	RoleConsole = "console"
)

// Token types carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrWrongType is returned when a token of one type is presented as the other.
var ErrWrongType = errors.New("auth: wrong token type")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims is the device token payload.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// DeviceID is the subject the token was issued to.
func (c Claims) DeviceID() string { return c.Subject }

// Issue signs an access and a refresh token for deviceID.
func Issue(deviceID, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if deviceID == "" {
		return TokenPair{}, errors.New("auth: device id required")
	}
	now := time.Now()
	pair := TokenPair{AccessExp: now.Add(accessTTL), RefreshExp: now.Add(refreshTTL)}

	var err error
	if pair.AccessToken, err = sign(deviceID, role, TypeAccess, issuer, key, now, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = sign(deviceID, role, TypeRefresh, issuer, key, now, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func sign(subject, role, typ, issuer, key string, issued, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates an HS256 device token of type typ and returns its claims.
func Parse(tokenStr, key, issuer, typ string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	if !parsed.Valid {
		return Claims{}, errors.New("auth: invalid token")
	}
	if claims.Type != typ {
		return Claims{}, ErrWrongType
	}
	return claims, nil
}
