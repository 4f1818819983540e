//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/rag-service/internal/bootstrap"
	"github.com/yanqian/rag-service/internal/domain/auth"
	"github.com/yanqian/rag-service/internal/infra/config"
	httpiface "github.com/yanqian/rag-service/internal/interface/http"
	"github.com/yanqian/rag-service/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		provideAuthConfig,
		provideChatGPTClient,
		provideAuthRepository,
		provideWorkspaceRepository,
		provideACLRepository,
		provideDocumentRepository,
		provideChunkRepository,
		provideConversationRepository,
		provideMessageRepository,
		provideRAGStorage,
		provideEmbedder,
		provideLLM,
		provideChunker,
		provideExtractor,
		provideEmbeddingCache,
		provideJobQueue,
		providePromptSource,
		provideContextBuilder,
		provideRetrievalPipeline,
		providePromptComposer,
		provideWorkspaceService,
		provideDocumentService,
		provideConversationService,
		provideUploadOrchestrator,
		provideProcessDocumentWorker,
		provideDocumentWorker,
		provideAnswerUseCase,
		auth.NewService,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
