package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"cleanbook/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	adminHeaderDefault    = "x-admin-secret"
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"

	permAdminBookings = "admin:bookings"
	permAdminZipCodes = "admin:zip-codes"
	permAdminExport   = "admin:export"
)

var (
	errMissingCredentials = errors.New("missing credentials")
	errInvalidCredentials = errors.New("invalid credentials")
	errPermissionDenied   = errors.New("permission denied")
)

// credentialStore checks the admin secret or an API key pair against the
// configured clients. It is shared by the HTTP admin routes and gRPC.
type credentialStore struct {
	cfg     config.APIAuthConfig
	clients map[string]config.APIClientKey
}

func newCredentials(cfg config.APIAuthConfig) *credentialStore {
	m := make(map[string]config.APIClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}
	return &credentialStore{cfg: cfg, clients: m}
}

func headerName(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}

// check authenticates with the admin secret or the API key and extra
// values. required is the permission the call needs; an empty permission
// list on a key allows everything.
func (c *credentialStore) check(adminSecret, apiKey, extra, required string) error {
	if adminSecret != "" {
		if c.cfg.AdminSecret == "" || subtle.ConstantTimeCompare([]byte(c.cfg.AdminSecret), []byte(adminSecret)) != 1 {
			return errInvalidCredentials
		}
		return nil
	}

	if apiKey == "" || extra == "" {
		return errMissingCredentials
	}
	client, ok := c.clients[apiKey]
	if !ok {
		return errInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidCredentials
	}

	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

// HTTPAuth guards the admin routes.
type HTTPAuth struct {
	enabled bool
	creds   *credentialStore
}

func NewHTTPAuth(cfg config.APIAuthConfig) *HTTPAuth {
	return &HTTPAuth{enabled: cfg.Enabled, creds: newCredentials(cfg)}
}

// Require wraps next so that it only runs for callers holding perm.
func (a *HTTPAuth) Require(perm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}

		cfg := a.creds.cfg
		err := a.creds.check(
			strings.TrimSpace(r.Header.Get(headerName(cfg.HeaderAdmin, adminHeaderDefault))),
			strings.TrimSpace(r.Header.Get(headerName(cfg.HeaderAPIKey, apiKeyHeaderDefault))),
			strings.TrimSpace(r.Header.Get(headerName(cfg.HeaderExtra, apiExtraHeaderDefault))),
			perm,
		)
		if err != nil {
			code := http.StatusUnauthorized
			if errors.Is(err, errPermissionDenied) {
				code = http.StatusForbidden
			}
			writeError(w, code, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting: the API key when one
// is sent, otherwise the remote host.
func clientKey(r *http.Request, apiKeyHeader string) string {
	if apiKey := strings.TrimSpace(r.Header.Get(headerName(apiKeyHeader, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// AuthInterceptor authenticates gRPC calls with the API key metadata and
// applies the per-client rate limit. The health service stays public.
type AuthInterceptor struct {
	cfg     *config.APIConfig
	creds   *credentialStore
	limiter *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{
		cfg:     cfg,
		creds:   newCredentials(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if a.cfg.Auth.Enabled && !publicMethod(info.FullMethod) {
			if err := a.checkAuth(ctx); err != nil {
				return nil, err
			}
		}
		if !a.limiter.allow(a.clientKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func publicMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}

func (a *AuthInterceptor) checkAuth(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	err := a.creds.check(
		first(md.Get(headerName(a.cfg.Auth.HeaderAdmin, adminHeaderDefault))),
		first(md.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))),
		first(md.Get(headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault))),
		"",
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Unauthenticated, err.Error())
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
