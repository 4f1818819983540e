package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/rag-service/internal/domain/auth"
	rag "github.com/yanqian/rag-service/internal/domain/rag"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// Handler wires the HTTP transport to domain services.
type Handler struct {
	authSvc         auth.Service
	workspaceSvc    *rag.WorkspaceService
	documentSvc     *rag.DocumentService
	conversationSvc *rag.ConversationService
	answerUC        *rag.AnswerUseCase
	uploadOrch      *rag.UploadOrchestrator
	logger          *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(
	authSvc auth.Service,
	workspaceSvc *rag.WorkspaceService,
	documentSvc *rag.DocumentService,
	conversationSvc *rag.ConversationService,
	answerUC *rag.AnswerUseCase,
	uploadOrch *rag.UploadOrchestrator,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		authSvc:         authSvc,
		workspaceSvc:    workspaceSvc,
		documentSvc:     documentSvc,
		conversationSvc: conversationSvc,
		answerUC:        answerUC,
		uploadOrch:      uploadOrch,
		logger:          logger.With("component", "http.handler"),
	}
}

// Register handles account creation.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	user, err := h.authSvc.Register(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_input"):
			status = http.StatusBadRequest
			code = "invalid_request"
		case apperrors.IsCode(err, "email_exists"):
			status = http.StatusConflict
			code = "email_exists"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user,
	})
}

// Login authenticates and issues a JWT.
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.authSvc.Login(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_input"):
			status = http.StatusBadRequest
			code = "invalid_request"
		case apperrors.IsCode(err, "invalid_credentials"):
			status = http.StatusUnauthorized
			code = "invalid_credentials"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new access token.
func (h *Handler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "invalid_token") {
			status = http.StatusUnauthorized
			code = "invalid_token"
		}
		if apperrors.IsCode(err, "user_not_found") {
			status = http.StatusNotFound
			code = "user_not_found"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Profile returns the authenticated user's info.
func (h *Handler) Profile(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}
	user, err := h.authSvc.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "user_not_found") {
			status = http.StatusNotFound
			code = "user_not_found"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to the private dashboard",
		"user":    user,
	})
}

// GoogleLogin redirects the caller to Google's consent screen, stashing the
// PKCE state/verifier pair in a short-lived cookie for GoogleCallback to read.
func (h *Handler) GoogleLogin(c *gin.Context) {
	state, codeVerifier, codeChallenge, err := auth.NewOAuthState()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "auth_failed", "failed to prepare oauth state", err))
		return
	}
	authURL, err := h.authSvc.GoogleAuthURL(c.Request.Context(), state, codeChallenge)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "auth_not_configured") {
			status = http.StatusServiceUnavailable
			code = "auth_not_configured"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	setOAuthStateCookie(c, state, codeVerifier)
	c.Redirect(http.StatusFound, authURL)
}

// GoogleCallback exchanges the authorization code for a session, validating
// the state cookie set by GoogleLogin.
func (h *Handler) GoogleCallback(c *gin.Context) {
	cookie, ok := readOAuthStateCookie(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "missing or expired oauth state", nil))
		return
	}
	clearOAuthStateCookie(c)
	if c.Query("state") != cookie.State {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "oauth state mismatch", nil))
		return
	}
	resp, err := h.authSvc.GoogleCallback(c.Request.Context(), c.Query("code"), cookie.CodeVerifier)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_request"):
			status = http.StatusBadRequest
			code = "invalid_request"
		case apperrors.IsCode(err, "invalid_credentials"), apperrors.IsCode(err, "account_linking_disabled"):
			status = http.StatusUnauthorized
			code = "invalid_credentials"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the caller's linked Google refresh token, if any.
func (h *Handler) Logout(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}
	if err := h.authSvc.Logout(c.Request.Context(), claims.UserID); err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "auth_failed", errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// actorFromClaims maps the authenticated JWT claims into a rag.Actor, the
// pure-data shape the access policy and use cases consume.
func actorFromClaims(claims auth.Claims) rag.Actor {
	return rag.Actor{UserID: claims.UserID, Role: rag.Role(claims.Role)}
}
