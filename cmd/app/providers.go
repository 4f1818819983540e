package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/rag-service/internal/domain/auth"
	domain "github.com/yanqian/rag-service/internal/domain/rag"
	"github.com/yanqian/rag-service/internal/infra/config"
	"github.com/yanqian/rag-service/internal/infra/llm/chatgpt"
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
	"github.com/yanqian/rag-service/internal/infra/userrepo"
)

func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
}

func provideAuthConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Secret:          cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		AdminEmails:     cfg.Auth.AdminEmails,
		Google: auth.GoogleConfig{
			ClientID:             cfg.Auth.Google.ClientID,
			ClientSecret:         cfg.Auth.Google.ClientSecret,
			RedirectURL:          cfg.Auth.Google.RedirectURL,
			TokenEncryptionKey:   cfg.Auth.Google.TokenEncryptionKey,
			PostLoginRedirectURL: cfg.Auth.Google.PostLoginRedirectURL,
		},
	}
}

func provideAuthRepository(cfg *config.Config, logger *slog.Logger) auth.Repository {
	fallback := userrepo.NewMemoryRepository()
	dsn := strings.TrimSpace(cfg.Auth.Postgres.DSN)
	if dsn == "" {
		logger.Info("auth postgres dsn not set, using memory repository")
		return fallback
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid auth postgres dsn, using memory repository", "error", err)
		return fallback
	}
	if cfg.Auth.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Auth.Postgres.MaxConns
	}
	if cfg.Auth.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Auth.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize auth postgres pool, using memory repository", "error", err)
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("auth postgres ping failed, using memory repository", "error", err)
		pool.Close()
		return fallback
	}
	logger.Info("auth postgres repository enabled")
	return userrepo.NewPostgresRepository(pool)
}

// ragPostgresPool lazily connects to RAG's Postgres database. A nil return
// means every repository provider falls back to its in-memory counterpart.
var (
	ragPoolOnce sync.Once
	ragPool     *pgxpool.Pool
)

func ragPostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	ragPoolOnce.Do(func() {
		dsn := strings.TrimSpace(cfg.RAG.Postgres.DSN)
		if dsn == "" {
			logger.Info("rag postgres dsn not set, using memory repositories")
			return
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			logger.Error("invalid rag postgres dsn, using memory repositories", "error", err)
			return
		}
		registerPgVector(poolConfig, logger)
		if cfg.RAG.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = cfg.RAG.Postgres.MaxConns
		}
		if cfg.RAG.Postgres.MinConns > 0 {
			poolConfig.MinConns = cfg.RAG.Postgres.MinConns
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			logger.Error("failed to initialize rag postgres pool, using memory repositories", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("rag postgres ping failed, using memory repositories", "error", err)
			pool.Close()
			return
		}
		logger.Info("rag postgres repositories enabled")
		ragPool = pool
	})
	return ragPool
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}

func provideWorkspaceRepository(cfg *config.Config, logger *slog.Logger) domain.WorkspaceRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return repo.NewPostgresWorkspaceRepository(pool)
	}
	return repo.NewMemoryWorkspaceRepository()
}

func provideACLRepository(cfg *config.Config, logger *slog.Logger) domain.ACLRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return repo.NewPostgresACLRepository(pool)
	}
	return repo.NewMemoryACLRepository()
}

func provideDocumentRepository(cfg *config.Config, logger *slog.Logger) domain.DocumentRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return repo.NewPostgresDocumentRepository(pool)
	}
	return repo.NewMemoryDocumentRepository()
}

func provideChunkRepository(cfg *config.Config, logger *slog.Logger) domain.ChunkRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return repo.NewPostgresChunkRepository(pool)
	}
	logger.Warn("rag chunk repository falling back to memory, documents repository will not share storage")
	return repo.NewMemoryChunkRepository(repo.NewMemoryDocumentRepository())
}

func provideConversationRepository(cfg *config.Config, logger *slog.Logger) domain.ConversationRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return repo.NewPostgresConversationRepository(pool)
	}
	return repo.NewMemoryConversationRepository()
}

func provideMessageRepository(cfg *config.Config, logger *slog.Logger) domain.MessageRepository {
	if pool := ragPostgresPool(cfg, logger); pool != nil {
		return repo.NewPostgresMessageRepository(pool, cfg.RAG.MaxConversationMessages)
	}
	return repo.NewMemoryMessageRepository(cfg.RAG.MaxConversationMessages)
}

func provideRAGStorage(cfg *config.Config, logger *slog.Logger) domain.ObjectStorage {
	endpoint := strings.TrimSpace(cfg.RAG.Storage.Endpoint)
	accessKey := strings.TrimSpace(cfg.RAG.Storage.AccessKey)
	secretKey := strings.TrimSpace(cfg.RAG.Storage.SecretKey)
	bucket := strings.TrimSpace(cfg.RAG.Storage.Bucket)
	region := strings.TrimSpace(cfg.RAG.Storage.Region)

	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		logger.Info("rag storage not fully configured, using memory storage")
		return storage.NewMemoryStorage()
	}
	r2, err := storage.NewR2Storage(endpoint, accessKey, secretKey, bucket, region, logger)
	if err != nil {
		logger.Error("failed to initialize r2 storage, using memory storage", "error", err)
		return storage.NewMemoryStorage()
	}
	logger.Info("rag r2 storage enabled", "endpoint", endpoint, "bucket", bucket)
	return r2
}

func provideEmbedder(client *chatgpt.Client, cfg *config.Config, logger *slog.Logger) domain.Embedder {
	model := strings.TrimSpace(cfg.LLM.EmbeddingModel)
	if !cfg.RAG.FakeEmbeddings && client != nil && model != "" {
		return embedder.NewChatGPTEmbedder(client, model, logger)
	}
	logger.Warn("using deterministic embedder", "fake_embeddings", cfg.RAG.FakeEmbeddings)
	return embedder.NewDeterministicEmbedder(cfg.RAG.VectorDim)
}

func provideLLM(client *chatgpt.Client, cfg *config.Config, logger *slog.Logger) domain.LLM {
	if cfg.RAG.FakeLLM || client == nil {
		logger.Warn("using echo llm", "fake_llm", cfg.RAG.FakeLLM)
		return raglllm.EchoLLM{}
	}
	return raglllm.NewChatGPTLLM(client, cfg.LLM.Model, cfg.LLM.Temperature)
}

func provideChunker(cfg *config.Config) domain.Chunker {
	if strings.EqualFold(cfg.RAG.TextChunkerMode, "structured") {
		return chunker.NewStructuredChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	}
	return chunker.NewSimpleChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
}

func provideExtractor() domain.TextExtractor {
	return extract.NewMimeExtractor()
}

func provideEmbeddingCache(cfg *config.Config, logger *slog.Logger) domain.EmbeddingCache {
	if cfg.RAG.EmbeddingCacheBackend == "redis" && cfg.RAG.Redis.Enabled {
		opt, err := buildValkeyOptions(cfg.RAG.Redis.Addr)
		if err != nil {
			logger.Error("invalid rag valkey configuration, falling back to memory embedding cache", "error", err)
			return embedcache.NewMemoryCache(cfg.RAG.EmbeddingCacheTTL)
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			logger.Error("failed to create rag valkey client, falling back to memory embedding cache", "error", err)
			return embedcache.NewMemoryCache(cfg.RAG.EmbeddingCacheTTL)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
			logger.Error("rag valkey ping failed, falling back to memory embedding cache", "error", err)
			return embedcache.NewMemoryCache(cfg.RAG.EmbeddingCacheTTL)
		}
		logger.Info("rag valkey embedding cache enabled", "addr", cfg.RAG.Redis.Addr)
		return embedcache.NewValkeyCache(client, "rag:embed", cfg.RAG.EmbeddingCacheTTL)
	}
	return embedcache.NewMemoryCache(cfg.RAG.EmbeddingCacheTTL)
}

func provideJobQueue(cfg *config.Config, logger *slog.Logger) queue.HandlerQueue {
	if cfg.RAG.Redis.Enabled {
		opt, err := buildValkeyOptions(cfg.RAG.Redis.Addr)
		if err != nil {
			logger.Error("invalid rag valkey configuration, falling back to in-memory queue", "error", err)
			return queue.NewImmediateQueue(nil)
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			logger.Error("failed to create rag valkey client, falling back to in-memory queue", "error", err)
			return queue.NewImmediateQueue(nil)
		}
		logger.Info("rag valkey queue enabled", "addr", cfg.RAG.Redis.Addr)
		return queue.NewValkeyQueue(client, "rag:process_document", logger)
	}
	return queue.NewImmediateQueue(nil)
}

func providePromptSource(cfg *config.Config) domain.PromptSource {
	return prompt.NewFileSource(cfg.RAG.PromptDir)
}

func provideContextBuilder(cfg *config.Config) *domain.ContextBuilder {
	return domain.NewContextBuilder(cfg.RAG.MaxContextChars)
}

func provideRetrievalPipeline(embed domain.Embedder, chunks domain.ChunkRepository, ctxBuilder *domain.ContextBuilder) *domain.RetrievalPipeline {
	return domain.NewRetrievalPipeline(embed, chunks, ctxBuilder)
}

func provideWorkspaceService(workspaces domain.WorkspaceRepository, acl domain.ACLRepository, logger *slog.Logger) *domain.WorkspaceService {
	return domain.NewWorkspaceService(workspaces, acl, logger)
}

func provideDocumentService(workspaces domain.WorkspaceRepository, acl domain.ACLRepository, documents domain.DocumentRepository, chunks domain.ChunkRepository, store domain.ObjectStorage, jobQueue queue.HandlerQueue, logger *slog.Logger) *domain.DocumentService {
	return domain.NewDocumentService(workspaces, acl, documents, chunks, store, jobQueue, logger)
}

func provideConversationService(workspaces domain.WorkspaceRepository, acl domain.ACLRepository, conversations domain.ConversationRepository, messages domain.MessageRepository, logger *slog.Logger) *domain.ConversationService {
	return domain.NewConversationService(workspaces, acl, conversations, messages, logger)
}

func provideUploadOrchestrator(cfg *config.Config, workspaces domain.WorkspaceRepository, documents domain.DocumentRepository, store domain.ObjectStorage, jobQueue queue.HandlerQueue, logger *slog.Logger) *domain.UploadOrchestrator {
	return domain.NewUploadOrchestrator(workspaces, documents, store, jobQueue, cfg.RAG.MaxUploadBytes, logger)
}

// ragRetryConfig translates cfg.RAG.Retry's second-granularity yaml/env
// knobs into the Retry/Resilience Helper's Config.
func ragRetryConfig(cfg *config.Config) retry.Config {
	return retry.Config{
		MaxAttempts: cfg.RAG.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.RAG.Retry.BaseDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(cfg.RAG.Retry.MaxDelaySeconds) * time.Second,
	}
}

func provideProcessDocumentWorker(cfg *config.Config, documents domain.DocumentRepository, chunks domain.ChunkRepository, store domain.ObjectStorage, extractor domain.TextExtractor, chunk domain.Chunker, embed domain.Embedder, cache domain.EmbeddingCache, logger *slog.Logger) *domain.ProcessDocumentWorker {
	return domain.NewProcessDocumentWorker(documents, chunks, store, extractor, chunk, embed, cache, ragRetryConfig(cfg), logger)
}

func providePromptComposer(source domain.PromptSource) *domain.PromptComposer {
	return domain.NewPromptComposer(source)
}

func provideAnswerUseCase(
	workspaces domain.WorkspaceRepository,
	acl domain.ACLRepository,
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	retrieval *domain.RetrievalPipeline,
	promptComposer *domain.PromptComposer,
	llm domain.LLM,
	cfg *config.Config,
	logger *slog.Logger,
) *domain.AnswerUseCase {
	return domain.NewAnswerUseCase(
		workspaces, acl, conversations, messages, retrieval, promptComposer, llm,
		cfg.RAG.PromptPolicyName, cfg.RAG.PromptVersion, cfg.RAG.MaxConversationMessages,
		ragRetryConfig(cfg), logger,
	)
}

// provideDocumentWorker wires the background worker into the job queue. When
// config.RAG.Worker.Enabled is false the queue still accepts jobs but no
// handler is attached, so nothing in this process runs them and documents
// stay PENDING (DocumentService.Reprocess only enqueues again).
func provideDocumentWorker(cfg *config.Config, worker *domain.ProcessDocumentWorker, jobQueue queue.HandlerQueue, logger *slog.Logger) *domain.ProcessDocumentWorker {
	if !cfg.RAG.Worker.Enabled {
		logger.Info("rag background worker disabled")
		return worker
	}
	jobQueue.SetHandler(queue.NewDocumentProcessingHandler(worker, logger))
	logger.Info("rag background worker enabled")
	return worker
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}
