// Package handler exposes the authentication flows over HTTP. Handlers bind
// and validate payloads, delegate to the service, and translate typed errors
// into responses. Authentication failures map to one uniform 401 body so
// responses never reveal whether an account exists, which strategy ran, or
// why a token was rejected; the concrete cause is logged server-side only.
package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/authcore/internal/domain"
	"github.com/smallbiznis/authcore/internal/http/middleware"
	"github.com/smallbiznis/authcore/internal/login"
	"github.com/smallbiznis/authcore/internal/service"
	"github.com/smallbiznis/authcore/internal/token"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	Auth   *service.AuthService
	Logger *zap.Logger
}

// NewAuthHandler wires the handler.
func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Logger: logger}
}

// Signup registers a local account.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and password are required."})
		return
	}

	resp, err := h.Auth.Signup(c.Request.Context(), service.SignupRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login handles the email/password strategy.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and password are required."})
		return
	}

	resp, err := h.Auth.Login(c.Request.Context(), login.Request{Email: req.Email, Password: req.Password})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SocialLogin exchanges a provider credential for a pair.
func (h *AuthHandler) SocialLogin(c *gin.Context) {
	var req struct {
		Provider    string `json:"provider"`
		AccessToken string `json:"access_token"`
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Provider is required."})
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" && strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Provider access_token or code is required."})
		return
	}

	resp, err := h.Auth.Login(c.Request.Context(), login.Request{
		Provider:    req.Provider,
		AccessToken: req.AccessToken,
		Code:        req.Code,
		RedirectURI: req.RedirectURI,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PasswordlessRequest mails a one-time login code. The response is the same
// whether or not the address has an account.
func (h *AuthHandler) PasswordlessRequest(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email is required."})
		return
	}

	if err := h.Auth.RequestLoginCode(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "If the address is valid, a login code has been sent."})
}

// PasswordlessVerify exchanges a mailed code for a pair.
func (h *AuthHandler) PasswordlessVerify(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and code are required."})
		return
	}

	resp, err := h.Auth.Login(c.Request.Context(), login.Request{Email: req.Email, OneTimeCode: req.Code})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	resp, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the pair the refresh token belongs to.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	if err := h.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out."})
}

// RevokeAll invalidates every session of the authenticated user.
func (h *AuthHandler) RevokeAll(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	if err := h.Auth.RevokeAll(c.Request.Context(), claims.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All sessions revoked."})
}

// Me returns the authenticated profile.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}
	profile, err := h.Auth.Me(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// respondError translates typed failures. Every authentication failure takes
// the same 401 branch on purpose.
func (h *AuthHandler) respondError(c *gin.Context, err error) {
	switch {
	case isAuthFailure(err):
		h.log().Info("authentication rejected",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed", "error_description": "Authentication failed."})
	case errors.Is(err, domain.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_email", "error_description": "Email already registered."})
	case errors.Is(err, domain.ErrPasswordlessDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": "passwordless_disabled", "error_description": "Passwordless login is not enabled."})
	case errors.Is(err, domain.ErrProvider):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "error_description": "Identity provider request failed."})
	case errors.Is(err, domain.ErrDelivery):
		c.JSON(http.StatusBadGateway, gin.H{"error": "delivery_failed", "error_description": "Could not deliver the message."})
	default:
		h.log().Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
	}
}

func isAuthFailure(err error) bool {
	for _, candidate := range []error{
		domain.ErrInvalidCredentials,
		domain.ErrUnverifiedIdentity,
		domain.ErrCodeInvalid,
		domain.ErrCodeExpired,
		token.ErrMalformed,
		token.ErrExpired,
		token.ErrSignatureInvalid,
		token.ErrKindMismatch,
		token.ErrAudience,
		token.ErrReuseDetected,
		token.ErrRevoked,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}

func (h *AuthHandler) log() *zap.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
