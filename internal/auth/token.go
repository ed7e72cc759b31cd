package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/principal"
)

// Claims is the bearer token body issued to consumer and staff devices.
type Claims struct {
	jwt.RegisteredClaims
	Kind       string `json:"kind"`
	BusinessID string `json:"business_id,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
	Role       string `json:"role"`
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	issuer string
	clock  clock.Clock
	leeway time.Duration
}

func NewTokens(secret, issuer string, clk clock.Clock) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretMissing
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Tokens{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
		clock:  clk,
		leeway: 30 * time.Second,
	}, nil
}

// Sign issues a token for p that expires after ttl.
func (t *Tokens) Sign(p principal.Principal, ttl time.Duration) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: string(p.Kind),
		Role: p.Role,
	}
	if p.Kind == principal.KindBusinessMember {
		claims.BusinessID = p.BusinessID.String()
		claims.MemberID = p.MemberID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies raw and turns its claims into a principal.
func (t *Tokens) Parse(raw string) (principal.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithLeeway(t.leeway),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return principal.Principal{}, ErrInvalidToken
	}
	return claims.principal()
}

func (c Claims) principal() (principal.Principal, error) {
	userID, err := parseID(c.Subject)
	if err != nil {
		return principal.Principal{}, err
	}

	switch principal.Kind(c.Kind) {
	case principal.KindConsumer:
		if c.BusinessID != "" || c.MemberID != "" {
			return principal.Principal{}, ErrInvalidClaims
		}
		return principal.Principal{UserID: userID, Kind: principal.KindConsumer, Role: principal.RoleConsumer}, nil
	case principal.KindBusinessMember:
		if c.Role != principal.RoleStaff && c.Role != principal.RoleOwner {
			return principal.Principal{}, ErrInvalidClaims
		}
		businessID, err := parseID(c.BusinessID)
		if err != nil {
			return principal.Principal{}, err
		}
		memberID, err := parseID(c.MemberID)
		if err != nil {
			return principal.Principal{}, err
		}
		return principal.Principal{
			UserID:     userID,
			Kind:       principal.KindBusinessMember,
			BusinessID: businessID,
			MemberID:   memberID,
			Role:       c.Role,
		}, nil
	default:
		return principal.Principal{}, ErrUnsupportedKind
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, errors.Join(ErrInvalidClaims, err)
	}
	return id, nil
}
