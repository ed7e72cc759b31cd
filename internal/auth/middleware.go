package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/loyalty/internal/clock"
	"github.com/smallbiznis/loyalty/internal/config"
	directorydomain "github.com/smallbiznis/loyalty/internal/directory/domain"
	obscontext "github.com/smallbiznis/loyalty/internal/observability/context"
	"github.com/smallbiznis/loyalty/internal/principal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Directory directorydomain.Service
}

// Authenticator turns bearer tokens into the request principal.
type Authenticator struct {
	tokens    *Tokens
	directory directorydomain.Service
	log       *zap.Logger
}

func NewAuthenticator(p Params) (*Authenticator, error) {
	log := p.Log.Named("auth")
	secret := p.Config.AuthJWTSecret
	if strings.TrimSpace(secret) == "" {
		if p.Config.IsProduction() {
			return nil, ErrSecretMissing
		}
		secret = ephemeralSecret()
		log.Warn("AUTH_JWT_SECRET not set, using an ephemeral secret")
	}
	tokens, err := NewTokens(secret, p.Config.AuthJWTIssuer, p.Clock)
	if err != nil {
		return nil, err
	}
	return &Authenticator{tokens: tokens, directory: p.Directory, log: log}, nil
}

func (a *Authenticator) Tokens() *Tokens {
	return a.tokens
}

// Authenticate verifies raw and, for staff, checks the member still belongs
// to the business named in the token.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (principal.Principal, error) {
	p, err := a.tokens.Parse(raw)
	if err != nil {
		return principal.Principal{}, err
	}
	if p.Kind != principal.KindBusinessMember || a.directory == nil {
		return p, nil
	}

	member, err := a.directory.ResolveMember(ctx, p.BusinessID, p.UserID)
	if err != nil {
		return principal.Principal{}, err
	}
	if member.ID != p.MemberID {
		return principal.Principal{}, ErrMemberMismatch
	}
	// the stored role wins over a stale claim
	p.Role = member.Role
	return p, nil
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearer(c.GetHeader("Authorization"))
		if raw == "" {
			_ = c.Error(ErrMissingToken)
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		p, err := a.Authenticate(ctx, raw)
		if err != nil {
			a.log.Debug("authentication failed", zap.Error(err))
			_ = c.Error(err)
			c.Abort()
			return
		}

		ctx = principal.WithPrincipal(ctx, p)
		ctx = obscontext.WithActor(ctx, string(p.Kind), p.UserID.String())
		if p.BusinessID != 0 {
			ctx = obscontext.WithBusinessID(ctx, p.BusinessID.String())
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearer(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func ephemeralSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
