package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleUser = "user"

	resetTokenLength   = 32
	resetTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// SessionClaims is the identity data embedded in a session token.
type SessionClaims struct {
	Role      string
	Email     string
	FirstName string
	LastName  string
}

type Claims struct {
	Role      string `json:"role"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	jwt.RegisteredClaims

	UserID uint64 `json:"-"`
}

// Credentials hashes passwords and issues and verifies HS256 session tokens.
// It is immutable after construction and safe for concurrent use.
type Credentials struct {
	secret     []byte
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

func NewCredentials(secret string, sessionTTL time.Duration, bcryptCost int) *Credentials {
	return &Credentials{
		secret:     []byte(secret),
		sessionTTL: sessionTTL,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

func (c *Credentials) SessionTTL() time.Duration {
	return c.sessionTTL
}

func (c *Credentials) HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), c.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (c *Credentials) VerifyPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func (c *Credentials) IssueSessionToken(userID uint64, sc SessionClaims) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.sessionTTL)

	claims := &Claims{
		Role:      sc.Role,
		Email:     sc.Email,
		FirstName: sc.FirstName,
		LastName:  sc.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (c *Credentials) VerifySessionToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return nil, fmt.Errorf("%w: malformed subject", ErrUnauthenticated)
	}
	claims.UserID = userID

	return claims, nil
}

// GenerateResetToken returns a random 32 character alphanumeric token.
func GenerateResetToken() (string, error) {
	alphabetLen := big.NewInt(int64(len(resetTokenAlphabet)))
	out := make([]byte, resetTokenLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", errors.Join(ErrInternal, err)
		}
		out[i] = resetTokenAlphabet[n.Int64()]
	}
	return string(out), nil
}
