package service

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of issued bearer tokens.
const DefaultTTL = 7 * 24 * time.Hour

// AudienceTelegram marks tokens minted for bot-initiated API calls.
const AudienceTelegram = "telegram"

// Claims mirror the EventApp token payload ({userId, email}) so the
// EventApp API, which shares the signing secret, accepts these tokens.
type Claims struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Token is a signed bearer credential.
type Token struct {
	Value     string
	Subject   string
	Audience  string
	ExpiresAt time.Time
}

// Issuer mints and verifies HS256 bearer tokens. There is no revocation;
// expiry is the only way a token becomes invalid.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Issuer)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret string, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty token signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	i := &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for userID. audience is the user's email for
// Mini App logins, or AudienceTelegram for bot-initiated calls.
func (i *Issuer) Issue(userID int64, audience string) (*Token, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	subject := strconv.FormatInt(userID, 10)

	claims := Claims{
		UserID: userID,
		Email:  audience,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Value: signed, Subject: subject, Audience: audience, ExpiresAt: exp}, nil
}

// Verify returns the token claims and true, or nil and false for any
// malformed, tampered, expired or foreign-algorithm token.
func (i *Issuer) Verify(raw string) (*Claims, bool) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid || claims.Subject == "" {
		return nil, false
	}
	return claims, true
}
