package ollama

import (
	"net/http"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// OllamaClient implements ai.LLMClient using a locally hosted Ollama server.
type OllamaClient struct {
	embeddingModel string
	chatModel      string
	dimensions     int
	timeout        time.Duration

	reqLock *semaphore.Weighted

	ai.Meter

	Client *api.Client
}

// NewOllamaClientParams contains configuration options for creating a new OllamaClient.
type NewOllamaClientParams struct {
	EmbeddingModel string
	ChatModel      string
	Dimensions     int

	BaseURL string
	ApiKey  string

	Timeout               time.Duration
	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewOllamaClient connects to the Ollama server at BaseURL (or the default
// when empty). MaxConcurrentRequests bounds in-flight requests.
func NewOllamaClient(params NewOllamaClientParams) (*OllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	headers := map[string]string{}
	if params.ApiKey != "" {
		headers["Authorization"] = "Bearer " + params.ApiKey
	}
	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: headers,
			rt:      http.DefaultTransport,
		},
	}

	if params.MaxConcurrentRequests <= 0 {
		params.MaxConcurrentRequests = 1
	}
	if params.Timeout <= 0 {
		params.Timeout = 5 * time.Minute
	}

	return &OllamaClient{
		embeddingModel: params.EmbeddingModel,
		chatModel:      params.ChatModel,
		dimensions:     params.Dimensions,
		timeout:        params.Timeout,

		reqLock: semaphore.NewWeighted(params.MaxConcurrentRequests),

		Client: api.NewClient(u, httpClient),
	}, nil
}
