package ollama

import (
	"cmp"
	"fmt"
	"net/http"
	"net/url"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// EmbeddingClient implements ai.Embedder using Ollama as the backend.
type EmbeddingClient struct {
	model      string
	dim        int
	timeoutMin int

	reqLock *semaphore.Weighted

	ai.MetricsRecorder

	Client *api.Client
}

// NewEmbeddingClientParams contains configuration options for creating a new EmbeddingClient.
type NewEmbeddingClientParams struct {
	Model      string
	Dimensions int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMinutes        int
}

// bearerTransport adds an API key for Ollama instances behind an
// authenticating proxy.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}

const defaultBaseURL = "http://127.0.0.1:11434"

// NewEmbeddingClient connects to the Ollama server at BaseURL, or the
// default local address when it is empty.
func NewEmbeddingClient(params NewEmbeddingClientParams) (*EmbeddingClient, error) {
	base, err := url.Parse(cmp.Or(params.BaseURL, defaultBaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}

	httpClient := http.DefaultClient
	if params.ApiKey != "" {
		httpClient = &http.Client{Transport: &bearerTransport{token: params.ApiKey, base: http.DefaultTransport}}
	}

	return &EmbeddingClient{
		model:      params.Model,
		dim:        cmp.Or(max(params.Dimensions, 0), defaultDimensions),
		timeoutMin: cmp.Or(max(params.TimeoutMinutes, 0), 5),
		reqLock:    semaphore.NewWeighted(cmp.Or(max(params.MaxConcurrentRequests, 0), 1)),
		Client:     api.NewClient(base, httpClient),
	}, nil
}
