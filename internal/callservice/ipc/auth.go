package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sebas/callservice/internal/callservice/callerr"
)

// Permissions carried in the perms claim.
const (
	PermPlaceCall   = "place_call"
	PermAnswerCall  = "answer_call"
	PermSetSettings = "set_settings"
	PermReadCalls   = "read_calls"
)

// AllPermissions is every permission, for operator tokens.
var AllPermissions = []string{PermPlaceCall, PermAnswerCall, PermSetSettings, PermReadCalls}

const issuer = "callservice"

// Claims identifies an IPC caller and what it may do.
type Claims struct {
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// Has reports whether the caller holds perm.
func (c *Claims) Has(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

// IssueToken signs a token for subject with the given permissions.
func IssueToken(secret []byte, subject string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticator verifies bearer tokens on incoming RPCs.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil when secret is empty, which disables
// authentication.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses and validates a token.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFromContext returns the caller's claims, if authentication ran.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(values[0], " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid authorization format")
	}
	return parts[1], nil
}

// UnaryInterceptor rejects calls without a valid token or without the
// permission the method requires.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token, err := bearerToken(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		claims, err := a.Verify(token)
		if err != nil {
			slog.Warn("[IPC] Token rejected", "method", info.FullMethod, "error", err)
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		perm, ok := permissionFor(info.FullMethod)
		if !ok {
			return nil, status.Errorf(codes.Unimplemented, "unknown method %s", info.FullMethod)
		}
		if !claims.Has(perm) {
			slog.Warn("[IPC] Permission denied", "method", info.FullMethod, "subject", claims.Subject, "required", perm)
			return nil, toStatus(permissionDenied(info.FullMethod, perm))
		}
		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

func permissionDenied(method, perm string) error {
	return callerr.Wrap(method, callerr.KindPermissionDenied, callerr.ReasonPermission, fmt.Errorf("requires %s", perm))
}
