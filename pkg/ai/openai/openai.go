package openai

import (
	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// EmbeddingClient generates embeddings through an OpenAI compatible API.
//
// An EmbeddingClient should be created using NewEmbeddingClient.
type EmbeddingClient struct {
	model      string
	dim        int
	timeoutMin int

	embeddingLock *semaphore.Weighted

	ai.MetricsRecorder

	Client *openai.Client
}

// NewEmbeddingClientParams defines the configuration parameters for creating
// a new EmbeddingClient.
//
// Dimensions truncates or zero-pads every returned vector so that it fits
// the vector columns. MaxConcurrentRequests bounds in-flight requests.
type NewEmbeddingClientParams struct {
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int

	MaxConcurrentRequests int64
	TimeoutMinutes        int
}

// NewEmbeddingClient creates a client for the given endpoint.
//
// Example:
//
//	client := openai.NewEmbeddingClient(openai.NewEmbeddingClientParams{
//		Model:      "text-embedding-3-small",
//		APIKey:     os.Getenv("OPENAI_API_KEY"),
//		Dimensions: 1536,
//	})
func NewEmbeddingClient(params NewEmbeddingClientParams) *EmbeddingClient {
	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	if params.TimeoutMinutes <= 0 {
		params.TimeoutMinutes = 5
	}
	if params.Dimensions <= 0 {
		params.Dimensions = defaultDimensions
	}

	options := []option.RequestOption{option.WithAPIKey(params.APIKey)}
	if params.BaseURL != "" {
		options = append(options, option.WithBaseURL(params.BaseURL))
	}
	client := openai.NewClient(options...)

	return &EmbeddingClient{
		model:         params.Model,
		dim:           params.Dimensions,
		timeoutMin:    params.TimeoutMinutes,
		embeddingLock: semaphore.NewWeighted(params.MaxConcurrentRequests),
		Client:        &client,
	}
}
