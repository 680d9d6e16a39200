package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kodex-auth/go-core/internal/authflow"
	"github.com/kodex-auth/go-core/internal/hooks"
	"github.com/kodex-auth/go-core/internal/reset"
	"github.com/kodex-auth/go-core/pkg/types"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type resetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

type resetCompleteRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "identifier and password are required"))
		return
	}

	creds := authflow.Credentials{
		RealmID:    s.realm(c),
		Identifier: req.Identifier,
		Password:   req.Password,
		IP:         c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}

	var (
		pair *types.TokenPair
		err  error
	)
	if strings.Contains(req.Identifier, "@") {
		pair, err = s.auth.TokenByEmail(c.Request.Context(), creds)
	} else {
		pair, err = s.auth.TokenByPhone(c.Request.Context(), creds)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "refresh_token is required"))
		return
	}

	pair, err := s.tokens.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "refresh_token is required"))
		return
	}

	if err := s.tokens.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requestReset always answers 202: the response must not disclose
// whether the identifier exists, nor whether rate limiting suppressed
// the request.
func (s *Server) requestReset(c *gin.Context) {
	if s.resets == nil {
		c.JSON(http.StatusNotImplemented, errorBody("not_configured", "password reset is not configured"))
		return
	}

	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "identifier is required"))
		return
	}

	err := s.resets.RequestReset(c.Request.Context(), reset.Request{
		RealmID:    s.realm(c),
		Identifier: req.Identifier,
		IP:         c.ClientIP(),
	})
	switch {
	case err == nil:
	case errors.Is(err, types.ErrRateLimitExceeded), errors.Is(err, types.ErrCooldownActive):
		// A 429 here would reveal that earlier requests were accepted.
		s.logger.Debug("reset request suppressed", zap.Error(err))
	default:
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) completeReset(c *gin.Context) {
	var req resetCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "token and new_password are required"))
		return
	}

	if err := s.auth.CompleteReset(c.Request.Context(), s.realm(c), req.Token, req.NewPassword); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (s *Server) changePassword(c *gin.Context) {
	claims, ok := requestClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing bearer token"))
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "old_password and new_password are required"))
		return
	}

	err := s.auth.ChangePassword(c.Request.Context(), claims.Realm, claims.Subject, req.OldPassword, req.NewPassword)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (s *Server) me(c *gin.Context) {
	claims, ok := requestClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing bearer token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": claims.Subject,
		"realm":   claims.Realm,
		"roles":   claims.Roles,
	})
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}

// respondError maps core errors onto HTTP status codes. Credential-path
// failures all map to the same opaque 401.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *hooks.ValidationError
	switch {
	case errors.Is(err, types.ErrAccountLocked):
		c.JSON(http.StatusLocked, errorBody("account_locked", "account temporarily locked"))
	case errors.Is(err, types.ErrUnverifiedAccount):
		c.JSON(http.StatusForbidden, errorBody("unverified_account", "account is not verified"))
	case errors.Is(err, types.ErrInvalidCredentials),
		errors.Is(err, types.ErrTokenExpired),
		errors.Is(err, types.ErrTokenRevoked),
		errors.Is(err, types.ErrTokenNotFound),
		errors.Is(err, types.ErrTokenReplayDetected):
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid credentials or token"))
	case errors.Is(err, types.ErrRateLimitExceeded),
		errors.Is(err, types.ErrCooldownActive):
		c.JSON(http.StatusTooManyRequests, errorBody("rate_limited", "too many requests"))
	case errors.As(err, &verr):
		details := make([]string, len(verr.Errors))
		for i, fe := range verr.Errors {
			details[i] = fe.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": "validation_failed", "message": "validation failed", "details": details},
		})
	default:
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", "internal server error"))
	}
}
