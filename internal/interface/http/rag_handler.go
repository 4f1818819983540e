package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	rag "github.com/yanqian/rag-service/internal/domain/rag"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

// statusForRAGError maps the domain's apperrors taxonomy to an HTTP status,
// the same switch-on-code idiom the upload/ask handlers used before this
// package absorbed their responsibilities.
func statusForRAGError(err error) (int, string) {
	switch {
	case apperrors.IsCode(err, "VALIDATION_ERROR"):
		return http.StatusBadRequest, "invalid_request"
	case apperrors.IsCode(err, "NOT_FOUND"):
		return http.StatusNotFound, "not_found"
	case apperrors.IsCode(err, "FORBIDDEN"):
		return http.StatusForbidden, "forbidden"
	case apperrors.IsCode(err, "CONFLICT"):
		return http.StatusConflict, "conflict"
	case apperrors.IsCode(err, "SERVICE_UNAVAILABLE"):
		return http.StatusServiceUnavailable, "unavailable"
	case apperrors.IsCode(err, "EMBEDDING_ERROR"), apperrors.IsCode(err, "LLM_ERROR"):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *Handler) respondRAGError(c *gin.Context, err error) {
	status, code := statusForRAGError(err)
	abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
}

func requireActor(c *gin.Context) (rag.Actor, bool) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return rag.Actor{}, false
	}
	return actorFromClaims(claims), true
}

// --- Workspaces -----------------------------------------------------------

type createWorkspaceRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

func (h *Handler) CreateWorkspace(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	ws, err := h.workspaceSvc.Create(c.Request.Context(), actor, req.Name, req.Description, rag.Visibility(req.Visibility))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ws)
}

func (h *Handler) ListWorkspaces(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	workspaces, err := h.workspaceSvc.List(c.Request.Context(), actor)
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": workspaces})
}

func (h *Handler) GetWorkspace(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	ws, err := h.workspaceSvc.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

type updateWorkspaceRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

func (h *Handler) UpdateWorkspace(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req updateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	ws, err := h.workspaceSvc.Update(c.Request.Context(), actor, c.Param("id"), req.Name, req.Description, rag.Visibility(req.Visibility))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (h *Handler) ArchiveWorkspace(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.workspaceSvc.Archive(c.Request.Context(), actor, c.Param("id")); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "workspace archived"})
}

type shareWorkspaceRequest struct {
	Visibility string `json:"visibility"`
	Grants     []struct {
		UserID int64  `json:"userId"`
		Role   string `json:"role"`
	} `json:"grants"`
}

func (h *Handler) ShareWorkspace(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req shareWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	grants := make([]rag.ACLGrant, 0, len(req.Grants))
	for _, g := range req.Grants {
		grants = append(grants, rag.ACLGrant{UserID: g.UserID, Role: rag.ACLRole(g.Role)})
	}
	if err := h.workspaceSvc.Share(c.Request.Context(), actor, c.Param("id"), grants, rag.Visibility(req.Visibility)); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "workspace shared"})
}

type grantACLRequest struct {
	UserID int64  `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

func (h *Handler) GrantWorkspaceACL(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req grantACLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	if err := h.workspaceSvc.GrantACL(c.Request.Context(), actor, c.Param("id"), req.UserID, rag.ACLRole(req.Role)); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access granted"})
}

func (h *Handler) RevokeWorkspaceACL(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "invalid user id", err))
		return
	}
	if err := h.workspaceSvc.RevokeACL(c.Request.Context(), actor, c.Param("id"), userID); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "access revoked"})
}

func (h *Handler) ListWorkspaceACL(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	entries, err := h.workspaceSvc.ListACL(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

// --- Documents --------------------------------------------------------------

func (h *Handler) UploadDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	workspaceID := c.Param("id")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "file is required", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "failed to open uploaded file", err))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "failed to read uploaded file", err))
		return
	}
	mimeType := fileHeader.Header.Get("Content-Type")
	var tags, allowedRoles []string
	if raw := c.PostForm("tags"); raw != "" {
		tags = splitCSV(raw)
	}
	if raw := c.PostForm("allowedRoles"); raw != "" {
		allowedRoles = splitCSV(raw)
	}
	resp, err := h.uploadOrch.Upload(c.Request.Context(), rag.UploadRequest{
		Actor:        actor,
		WorkspaceID:  workspaceID,
		Filename:     fileHeader.Filename,
		MimeType:     mimeType,
		Content:      content,
		Tags:         tags,
		AllowedRoles: allowedRoles,
	})
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (h *Handler) ListDocuments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	docs, err := h.documentSvc.List(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": docs})
}

func (h *Handler) GetDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	doc, err := h.documentSvc.Get(c.Request.Context(), actor, c.Param("id"), c.Param("docId"))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.documentSvc.Delete(c.Request.Context(), actor, c.Param("id"), c.Param("docId")); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

func (h *Handler) DownloadDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	ttl := int64(15 * 60)
	if raw := c.Query("ttlSeconds"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			ttl = parsed
		}
	}
	url, err := h.documentSvc.DownloadURL(c.Request.Context(), actor, c.Param("id"), c.Param("docId"), ttl)
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) DocumentStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	status, reason, err := h.documentSvc.Status(c.Request.Context(), actor, c.Param("id"), c.Param("docId"))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "failureReason": reason})
}

func (h *Handler) ReprocessDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.documentSvc.Reprocess(c.Request.Context(), actor, c.Param("id"), c.Param("docId")); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "document requeued"})
}

func (h *Handler) CancelDocumentProcessing(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.documentSvc.CancelProcessing(c.Request.Context(), actor, c.Param("id"), c.Param("docId")); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "processing cancelled"})
}

// --- Conversations ------------------------------------------------------

type createConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req createConversationRequest
	_ = c.ShouldBindJSON(&req)
	conv, err := h.conversationSvc.Create(c.Request.Context(), actor, c.Param("id"), req.Title)
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) GetConversationHistory(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	messages, err := h.conversationSvc.GetHistory(c.Request.Context(), actor, c.Param("id"), c.Param("convId"), limit)
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": messages})
}

func (h *Handler) ClearConversation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.conversationSvc.Clear(c.Request.Context(), actor, c.Param("id"), c.Param("convId")); err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation cleared"})
}

// --- Ask ------------------------------------------------------------------

type askRequestBody struct {
	ConversationID string `json:"conversationId"`
	Query          string `json:"query" binding:"required"`
	TopK           int    `json:"topK"`
	UseMMR         *bool  `json:"useMmr"`
}

func (h *Handler) toAskRequest(c *gin.Context, actor rag.Actor, body askRequestBody) rag.AskRequest {
	useMMR := true
	if body.UseMMR != nil {
		useMMR = *body.UseMMR
	}
	return rag.AskRequest{
		Actor:          actor,
		WorkspaceID:    c.Param("id"),
		ConversationID: body.ConversationID,
		Query:          body.Query,
		TopK:           body.TopK,
		UseMMR:         useMMR,
	}
}

func (h *Handler) AskQuestion(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var body askRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.answerUC.Ask(c.Request.Context(), h.toAskRequest(c, actor, body))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AskQuestionStream streams the answer as server-sent events: a sources
// frame, zero or more token frames, then a done (or error) frame.
func (h *Handler) AskQuestionStream(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var body askRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	events, err := h.answerUC.AskStream(c.Request.Context(), h.toAskRequest(c, actor, body))
	if err != nil {
		h.respondRAGError(c, err)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(event.Type), event)
		return event.Type != rag.AskEventDone && event.Type != rag.AskEventError
	})
}
