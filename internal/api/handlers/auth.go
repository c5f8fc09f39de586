package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/qbtrader/internal/audit"
	"github.com/bikeshrana/qbtrader/internal/auth"
	"github.com/bikeshrana/qbtrader/internal/data"
)

// AuthHandler handles authentication requests against the real user
// store and JWT service, in place of the teacher's mock-token stub.
type AuthHandler struct {
	jwtSvc      *auth.JWTService
	users       *data.UserRepository
	auditLogger *audit.AuditLogger
	logger      zerolog.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(jwtSvc *auth.JWTService, users *data.UserRepository, auditLogger *audit.AuditLogger, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{jwtSvc: jwtSvc, users: users, auditLogger: auditLogger, logger: logger}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents the login response.
type LoginResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	User         UserInfo `json:"user"`
}

// UserInfo represents basic user information.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Login validates credentials against the user repository's bcrypt
// hash and issues a real JWT token pair on success.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	ctx := r.Context()
	user, err := h.users.ValidatePassword(ctx, req.Username, req.Password)
	if err != nil {
		if h.auditLogger != nil {
			h.auditLogger.LogUserLogin(ctx, "", req.Username, r.RemoteAddr, false)
		}
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	tokens, err := h.jwtSvc.GenerateTokenPair(ctx, user.ID, user.Username, user.Email, user.Role)
	if err != nil {
		h.logger.Error().Err(err).Str("username", user.Username).Msg("auth: failed to issue token pair")
		writeError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	_ = h.users.UpdateLastLogin(ctx, user.ID)
	if h.auditLogger != nil {
		h.auditLogger.LogUserLogin(ctx, user.ID, user.Username, r.RemoteAddr, true)
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		User: UserInfo{
			ID: user.ID, Username: user.Username, Email: user.Email,
			FullName: user.FullName, Role: user.Role,
		},
	})
}

// Logout records the logout in the audit log. JWTs issued by this
// service are stateless and short-lived, so there is no server-side
// session to invalidate; a revocation list is left as a future step
// if refresh tokens need early invalidation.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, ok := claimsFromRequest(h.jwtSvc, r); ok && h.auditLogger != nil {
		h.auditLogger.LogUserLogout(r.Context(), claims.UserID, claims.Username, r.RemoteAddr)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// GetCurrentUser returns the user identified by the request's bearer token.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromRequest(h.jwtSvc, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization token")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, UserInfo{
		ID: user.ID, Username: user.Username, Email: user.Email,
		FullName: user.FullName, Role: user.Role,
	})
}

// RefreshToken exchanges a valid refresh token for a fresh token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	tokens, err := h.jwtSvc.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"token_type":    tokens.TokenType,
	})
}

// claimsFromRequest extracts and validates the bearer token carried on
// the request's Authorization header.
func claimsFromRequest(jwtSvc *auth.JWTService, r *http.Request) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return nil, false
	}
	claims, err := jwtSvc.ValidateToken(header[len(prefix):])
	if err != nil {
		return nil, false
	}
	return claims, true
}
