package oauth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-grants/instrumentation"
	"github.com/giantswarm/oidc-grants/server"
	"github.com/giantswarm/oidc-grants/storage"
)

const tokenTypeBearer = "Bearer"

// maxFormBytes bounds request bodies of the form endpoints
const maxFormBytes = 64 << 10

// ErrorResponse is the JSON body of an OAuth error response
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Handler is a reference net/http binding of the engine. Clients authenticate
// with HTTP Basic or client_secret_post; scopes calling the introspection
// endpoint authenticate with HTTP Basic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if inst := srv.Instrumentation(); inst != nil {
		h.tracer = inst.Tracer("http")
	}

	return h
}

// RegisterRoutes mounts the token, introspection and revocation endpoints
// under prefix (for example "/connect").
func (h *Handler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.HandleFunc(prefix+"/token", h.ServeToken)
	mux.HandleFunc(prefix+"/introspect", h.ServeTokenIntrospection)
	mux.HandleFunc(prefix+"/revocation", h.ServeTokenRevocation)
}

// ServeToken handles token requests (RFC 6749 section 3.2)
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := h.begin(w, r, "token")
	defer rec.finish(ctx)
	if span != nil {
		defer span.End()
	}

	if !h.parseForm(rec, r) {
		return
	}

	client, err := h.authenticateClient(ctx, r)
	if err != nil {
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(rec, FromError(err))
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	resp, err := h.server.ProcessTokenRequest(ctx, r.PostForm, client)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(rec, FromError(err))
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeJSON(rec, http.StatusOK, resp)
}

// ServeTokenIntrospection handles RFC 7662 introspection requests
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := h.begin(w, r, "introspect")
	defer rec.finish(ctx)
	if span != nil {
		defer span.End()
	}

	if !h.parseForm(rec, r) {
		return
	}

	name, secret, ok := r.BasicAuth()
	if !ok {
		h.logger.Debug("Introspection request without scope credentials")
		h.writeError(rec, FromError(server.ErrScopeUnauthorized))
		return
	}
	scope, err := h.server.AuthenticateScope(ctx, formUnescape(name), formUnescape(secret))
	if err != nil {
		instrumentation.SetSpanError(span, "scope authentication failed")
		h.writeError(rec, FromError(err))
		return
	}

	response, err := h.server.Introspect(ctx, r.PostForm, scope)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(rec, FromError(err))
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.writeJSON(rec, http.StatusOK, response)
}

// ServeTokenRevocation handles RFC 7009 revocation requests. Unknown tokens
// still yield 200.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	ctx, span, rec := h.begin(w, r, "revoke")
	defer rec.finish(ctx)
	if span != nil {
		defer span.End()
	}

	if !h.parseForm(rec, r) {
		return
	}

	client, err := h.authenticateClient(ctx, r)
	if err != nil {
		instrumentation.SetSpanError(span, "client authentication failed")
		h.writeError(rec, FromError(err))
		return
	}

	if err := h.server.Revoke(ctx, r.PostForm, client); err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(rec, FromError(err))
		return
	}

	instrumentation.SetSpanSuccess(span)
	setNoStore(rec)
	rec.WriteHeader(http.StatusOK)
}

// ============================================================
// Bearer token middleware
// ============================================================

type contextKey string

const claimsKey contextKey = "token_claims"

// ClaimsFromContext returns the claims of the access token validated by
// RequireToken, if any.
func ClaimsFromContext(ctx context.Context) ([]storage.Claim, bool) {
	claims, ok := ctx.Value(claimsKey).([]storage.Claim)
	return claims, ok
}

// RequireToken validates the bearer access token of each request. A
// non-empty scope must be among the token's scopes. The validated claims are
// available to next through ClaimsFromContext.
func (h *Handler) RequireToken(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.writeChallenge(w, ErrInvalidToken("missing bearer token"), scope)
			return
		}

		result, err := h.server.TokenValidator().ValidateAccessToken(r.Context(), token, scope)
		if err != nil {
			h.logger.Error("Access token validation failed", "error", err)
			h.writeError(w, ErrServerError(""))
			return
		}
		if result.IsError {
			h.logger.Debug("Rejected access token", "reason", result.Reason.String())
			if result.Error == ErrorCodeInsufficientScope {
				h.writeChallenge(w, ErrInsufficientScope(""), scope)
				return
			}
			h.writeChallenge(w, ErrInvalidToken(""), scope)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, result.Claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the RFC 6750 bearer token from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, tokenTypeBearer) || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// writeChallenge writes a 401 or 403 with an RFC 6750 WWW-Authenticate header
func (h *Handler) writeChallenge(w http.ResponseWriter, oe *OAuthError, scope string) {
	var b strings.Builder
	b.WriteString(tokenTypeBearer)
	b.WriteString(` error="`)
	b.WriteString(oe.Code)
	b.WriteString(`"`)
	if scope != "" {
		b.WriteString(`, scope="`)
		b.WriteString(scope)
		b.WriteString(`"`)
	}
	w.Header().Set("WWW-Authenticate", b.String())
	h.writeError(w, oe)
}

// ============================================================
// Helpers
// ============================================================

// authenticateClient authenticates the calling client with HTTP Basic, or
// with client_id and client_secret form parameters
func (h *Handler) authenticateClient(ctx context.Context, r *http.Request) (*storage.Client, error) {
	clientID, secret, ok := r.BasicAuth()
	if ok {
		// RFC 6749 section 2.3.1 form-encodes Basic credentials
		clientID = formUnescape(clientID)
		secret = formUnescape(secret)
	} else {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}
	if clientID == "" {
		h.logger.Debug("Request without client credentials", "path", r.URL.Path)
		return nil, ErrInvalidClient("")
	}
	return h.server.AuthenticateClient(ctx, clientID, secret)
}

func formUnescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// parseForm enforces POST with a bounded form body. Returns false after
// writing an error response.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request"))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, oe *OAuthError) {
	if oe.Status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", "Basic")
	}
	h.writeJSON(w, oe.Status, ErrorResponse{
		Error:            oe.Code,
		ErrorDescription: oe.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	setNoStore(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// setNoStore marks a response as containing credentials (RFC 6749 section 5.1)
func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ============================================================
// Instrumentation
// ============================================================

// statusRecorder captures the response status for HTTP metrics
type statusRecorder struct {
	http.ResponseWriter
	h        *Handler
	endpoint string
	method   string
	status   int
	start    time.Time
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) finish(ctx context.Context) {
	inst := r.h.server.Instrumentation()
	if inst == nil {
		return
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	durationMs := float64(time.Since(r.start).Microseconds()) / 1000
	inst.Metrics().RecordHTTPRequest(ctx, r.endpoint, r.method, status, durationMs)
}

// begin starts the span and status recorder of an endpoint. The span is nil
// when tracing is disabled.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, endpoint string) (context.Context, trace.Span, *statusRecorder) {
	ctx := r.Context()
	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http."+endpoint)
	}
	rec := &statusRecorder{
		ResponseWriter: w,
		h:              h,
		endpoint:       endpoint,
		method:         r.Method,
		start:          time.Now(),
	}
	return ctx, span, rec
}
