package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/rag-service/internal/domain/auth"
	domain "github.com/yanqian/rag-service/internal/domain/rag"
	"github.com/yanqian/rag-service/internal/infra/config"
	"github.com/yanqian/rag-service/internal/infra/rag/chunker"
	"github.com/yanqian/rag-service/internal/infra/rag/embedcache"
	"github.com/yanqian/rag-service/internal/infra/rag/embedder"
	"github.com/yanqian/rag-service/internal/infra/rag/extract"
	raglllm "github.com/yanqian/rag-service/internal/infra/rag/llm"
	"github.com/yanqian/rag-service/internal/infra/rag/prompt"
	"github.com/yanqian/rag-service/internal/infra/rag/queue"
	"github.com/yanqian/rag-service/internal/infra/rag/repo"
	"github.com/yanqian/rag-service/internal/infra/rag/retry"
	"github.com/yanqian/rag-service/internal/infra/rag/storage"
	apperrors "github.com/yanqian/rag-service/pkg/errors"
)

const defaultAuthToken = "valid-token"

func TestRouter_RegisterSuccess(t *testing.T) {
	authSvc := &stubAuth{
		registerFn: func(ctx context.Context, req auth.RegisterRequest) (auth.UserView, error) {
			require.Equal(t, "user@example.com", req.Email)
			require.Equal(t, "password123", req.Password)
			require.Equal(t, "Nickname", req.Nickname)
			return auth.UserView{ID: 42, Email: req.Email, Nickname: req.Nickname}, nil
		},
	}
	server := newRouterUnderTest(t, testDeps{authSvc: authSvc})
	recorder := performRequest(http.MethodPost, "/api/v1/auth/register", `{"email":"user@example.com","password":"password123","nickname":"Nickname"}`, server)
	require.Equal(t, http.StatusCreated, recorder.Code)

	var body struct {
		Message string        `json:"message"`
		User    auth.UserView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, "User registered successfully", body.Message)
	require.Equal(t, "user@example.com", body.User.Email)
}

func TestRouter_LoginInvalidCredentials(t *testing.T) {
	authSvc := &stubAuth{
		loginFn: func(ctx context.Context, req auth.LoginRequest) (auth.LoginResponse, error) {
			return auth.LoginResponse{}, apperrors.Wrap("invalid_credentials", "invalid", nil)
		},
	}
	server := newRouterUnderTest(t, testDeps{authSvc: authSvc})
	recorder := performRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"user@example.com","password":"wrong"}`, server)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, "invalid_credentials", errBody["error"]["code"])
}

func TestRouter_RefreshSuccess(t *testing.T) {
	authSvc := &stubAuth{
		refreshFn: func(ctx context.Context, token string) (auth.LoginResponse, error) {
			require.Equal(t, "refresh-token", token)
			return auth.LoginResponse{Token: "new-token", RefreshToken: "new-refresh", User: auth.UserView{Email: "user@example.com"}}, nil
		},
	}
	server := newRouterUnderTest(t, testDeps{authSvc: authSvc})
	recorder := performRequest(http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"refresh-token"}`, server)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp auth.LoginResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, "new-token", resp.Token)
}

func TestRouter_ProtectedRequiresAuth(t *testing.T) {
	server := newRouterUnderTest(t, testDeps{})
	recorder := performRequest(http.MethodGet, "/api/v1/workspaces", "", server, withoutAuth())
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	errBody := decodeErrorBody(t, recorder.Body.Bytes())
	require.Equal(t, "unauthorized", errBody["error"]["code"])
}

func TestRouter_Profile(t *testing.T) {
	authSvc := &stubAuth{
		profileFn: func(ctx context.Context, userID int64) (auth.UserView, error) {
			return auth.UserView{ID: userID, Email: "me@example.com", Nickname: "MeNick"}, nil
		},
	}
	server := newRouterUnderTest(t, testDeps{authSvc: authSvc})
	recorder := performRequest(http.MethodGet, "/api/v1/auth/me", "", server)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		User auth.UserView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Equal(t, "MeNick", body.User.Nickname)
}

func TestRouter_CORSPreflight(t *testing.T) {
	server := newRouterUnderTest(t, testDeps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/workspaces", nil)
	recorder := httptest.NewRecorder()
	server.Handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_RateLimitExceeded(t *testing.T) {
	server := newRouterUnderTest(t, testDeps{}, func(cfg *config.Config) {
		cfg.HTTP.RateLimit.Enabled = true
		cfg.HTTP.RateLimit.RequestsPerMinute = 1
		cfg.HTTP.RateLimit.Burst = 1
	})

	first := performRequest(http.MethodGet, "/api/v1/workspaces", "", server)
	require.Equal(t, http.StatusOK, first.Code)

	second := performRequest(http.MethodGet, "/api/v1/workspaces", "", server)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRouter_CreateAndListWorkspace(t *testing.T) {
	server := newRouterUnderTest(t, testDeps{})

	created := performRequest(http.MethodPost, "/api/v1/workspaces", `{"name":"Research","description":"notes"}`, server)
	require.Equal(t, http.StatusCreated, created.Code)

	var ws domain.Workspace
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &ws))
	require.NotEmpty(t, ws.ID)
	require.Equal(t, domain.VisibilityPrivate, ws.Visibility)

	listed := performRequest(http.MethodGet, "/api/v1/workspaces", "", server)
	require.Equal(t, http.StatusOK, listed.Code)

	var body struct {
		Items []domain.Workspace `json:"items"`
	}
	require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
}

func TestRouter_WorkspaceNotFound(t *testing.T) {
	server := newRouterUnderTest(t, testDeps{})
	recorder := performRequest(http.MethodGet, "/api/v1/workspaces/does-not-exist", "", server)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRouter_UploadDocumentAndAsk(t *testing.T) {
	server := newRouterUnderTest(t, testDeps{})

	created := performRequest(http.MethodPost, "/api/v1/workspaces", `{"name":"Research"}`, server)
	require.Equal(t, http.StatusCreated, created.Code)
	var ws domain.Workspace
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &ws))

	uploadBody, contentType := multipartFile(t, "file", "notes.txt", "text/plain", "the sky is blue and the grass is green")
	uploadReq := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/documents", uploadBody)
	uploadReq.Header.Set("Content-Type", contentType)
	uploadReq.Header.Set("Authorization", "Bearer "+defaultAuthToken)
	uploadRec := httptest.NewRecorder()
	server.Handler.ServeHTTP(uploadRec, uploadReq)
	require.Equal(t, http.StatusAccepted, uploadRec.Code)

	var uploadResp domain.UploadResponse
	require.NoError(t, json.Unmarshal(uploadRec.Body.Bytes(), &uploadResp))
	require.NotEmpty(t, uploadResp.DocumentID)

	require.Eventually(t, func() bool {
		statusRec := performRequest(http.MethodGet, "/api/v1/workspaces/"+ws.ID+"/documents/"+uploadResp.DocumentID+"/status", "", server)
		if statusRec.Code != http.StatusOK {
			return false
		}
		var status struct {
			Status domain.DocumentStatus `json:"status"`
		}
		require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
		return status.Status == domain.DocumentReady
	}, time.Second, 10*time.Millisecond)

	askRec := performRequest(http.MethodPost, "/api/v1/workspaces/"+ws.ID+"/ask", `{"query":"what color is the sky?"}`, server)
	require.Equal(t, http.StatusOK, askRec.Code)

	var askResp domain.AskResponse
	require.NoError(t, json.Unmarshal(askRec.Body.Bytes(), &askResp))
	require.NotEmpty(t, askResp.ConversationID)
	require.NotEmpty(t, askResp.Answer)
}

func multipartFile(t *testing.T, field, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="` + field + `"; filename="` + filename + `"`},
		"Content-Type":        {contentType},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func performRequest(method, path, body string, server *http.Server, opts ...requestOption) *httptest.ResponseRecorder {
	var payload io.Reader
	if body != "" {
		payload = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, payload)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	req.RemoteAddr = "203.0.113.1:1234"
	req.Header.Set("Authorization", "Bearer "+defaultAuthToken)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	return rec
}

type requestOption func(req *http.Request)

func withoutAuth() requestOption {
	return func(req *http.Request) {
		req.Header.Del("Authorization")
	}
}

type testDeps struct {
	authSvc auth.Service
}

// newRouterUnderTest assembles a real RAG stack backed by in-memory
// adapters (the same ones cmd/app/providers.go falls back to without a
// configured Postgres/Valkey/R2 endpoint) so router tests exercise the
// actual domain services rather than hand-rolled fakes of them.
func newRouterUnderTest(t *testing.T, deps testDeps, overrides ...func(*config.Config)) *http.Server {
	t.Helper()

	authSvc := deps.authSvc
	if authSvc == nil {
		authSvc = &stubAuth{
			validateFn: func(ctx context.Context, token string) (auth.Claims, error) {
				if token != defaultAuthToken {
					return auth.Claims{}, apperrors.Wrap("invalid_token", "invalid token", nil)
				}
				return auth.Claims{UserID: 1, Email: "tester@example.com", Role: "EMPLOYEE", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
			profileFn: func(ctx context.Context, userID int64) (auth.UserView, error) {
				return auth.UserView{ID: userID, Email: "tester@example.com", Nickname: "Tester"}, nil
			},
		}
	}

	logger := newTestLogger()

	workspaces := repo.NewMemoryWorkspaceRepository()
	acl := repo.NewMemoryACLRepository()
	documents := repo.NewMemoryDocumentRepository()
	chunks := repo.NewMemoryChunkRepository(documents)
	conversations := repo.NewMemoryConversationRepository()
	messages := repo.NewMemoryMessageRepository(20)

	objectStorage := storage.NewMemoryStorage()
	embed := embedder.NewDeterministicEmbedder(16)
	llm := raglllm.EchoLLM{}
	textChunker := chunker.NewSimpleChunker(200, 20)
	extractor := extract.NewMimeExtractor()
	cache := embedcache.NewMemoryCache(time.Minute)
	jobQueue := queue.NewImmediateQueue(nil)
	promptSource := prompt.NewFileSource("")
	promptComposer := domain.NewPromptComposer(promptSource)
	contextBuilder := domain.NewContextBuilder(4000)
	retrieval := domain.NewRetrievalPipeline(embed, chunks, contextBuilder)

	retryCfg := retry.DefaultConfig()

	worker := domain.NewProcessDocumentWorker(documents, chunks, objectStorage, extractor, textChunker, embed, cache, retryCfg, logger)
	jobQueue.SetHandler(queue.NewDocumentProcessingHandler(worker, logger))

	workspaceSvc := domain.NewWorkspaceService(workspaces, acl, logger)
	documentSvc := domain.NewDocumentService(workspaces, acl, documents, chunks, objectStorage, jobQueue, logger)
	conversationSvc := domain.NewConversationService(workspaces, acl, conversations, messages, logger)
	uploadOrch := domain.NewUploadOrchestrator(workspaces, documents, objectStorage, jobQueue, 10<<20, logger)
	answerUC := domain.NewAnswerUseCase(workspaces, acl, conversations, messages, retrieval, promptComposer, llm, "default", "v1", 20, retryCfg, logger)

	handler := NewHandler(authSvc, workspaceSvc, documentSvc, conversationSvc, answerUC, uploadOrch, logger)

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Address:      ":0",
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			RateLimit: config.RateLimitConfig{
				Enabled: false,
			},
			Retry: config.RetryConfig{
				Enabled: false,
			},
		},
	}
	for _, override := range overrides {
		override(cfg)
	}
	return NewRouter(cfg, handler)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAuth struct {
	registerFn func(ctx context.Context, req auth.RegisterRequest) (auth.UserView, error)
	loginFn    func(ctx context.Context, req auth.LoginRequest) (auth.LoginResponse, error)
	refreshFn  func(ctx context.Context, token string) (auth.LoginResponse, error)
	validateFn func(ctx context.Context, token string) (auth.Claims, error)
	profileFn  func(ctx context.Context, userID int64) (auth.UserView, error)
}

func (s *stubAuth) Register(ctx context.Context, req auth.RegisterRequest) (auth.UserView, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, req)
	}
	return auth.UserView{}, nil
}

func (s *stubAuth) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResponse, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, req)
	}
	return auth.LoginResponse{}, nil
}

func (s *stubAuth) GoogleAuthURL(ctx context.Context, state, codeChallenge string) (string, error) {
	return "", apperrors.Wrap("auth_not_configured", "google oauth not configured", nil)
}

func (s *stubAuth) GoogleCallback(ctx context.Context, code, codeVerifier string) (auth.LoginResponse, error) {
	return auth.LoginResponse{}, errors.New("not implemented")
}

func (s *stubAuth) Refresh(ctx context.Context, token string) (auth.LoginResponse, error) {
	if s.refreshFn != nil {
		return s.refreshFn(ctx, token)
	}
	return auth.LoginResponse{}, nil
}

func (s *stubAuth) ValidateToken(ctx context.Context, token string) (auth.Claims, error) {
	if s.validateFn != nil {
		return s.validateFn(ctx, token)
	}
	if token != defaultAuthToken {
		return auth.Claims{}, apperrors.Wrap("invalid_token", "invalid token", nil)
	}
	return auth.Claims{UserID: 1, Email: "tester@example.com", Role: "EMPLOYEE", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *stubAuth) Profile(ctx context.Context, userID int64) (auth.UserView, error) {
	if s.profileFn != nil {
		return s.profileFn(ctx, userID)
	}
	return auth.UserView{ID: userID, Email: "tester@example.com", Nickname: "Tester"}, nil
}

func (s *stubAuth) Logout(ctx context.Context, userID int64) error {
	return nil
}

func TestIPRateLimiterBasic(t *testing.T) {
	limiter := newIPRateLimiter(config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	require.True(t, limiter.allow("ip"))
	require.False(t, limiter.allow("ip"))
}

func TestRateLimitMiddlewareBlocks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(errorHandlingMiddleware(newTestLogger()), rateLimitMiddleware(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		Burst:             1,
	}, newTestLogger()))
	router.POST("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	rec1 := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req1.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func decodeErrorBody(t *testing.T, raw []byte) map[string]map[string]string {
	t.Helper()
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}
