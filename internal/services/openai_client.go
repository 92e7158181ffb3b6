package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

// MatchScorer rates how well a caption answers a search query, 0.0-1.0.
type MatchScorer interface {
	ScoreMatch(ctx context.Context, query, caption string) (float64, error)
}

type openAIClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
}

func NewOpenAIClient(log *logger.Logger) (MatchScorer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com", log)
	model := utils.GetEnv("OPENAI_MODEL", "gpt-4o-mini", log)
	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 30, log)
	maxRetries := utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 3, log)

	return &openAIClient{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const matchSystemPrompt = "You are a precise video search matching assistant. Respond only with a number 0-100."

func matchUserPrompt(query, caption string) string {
	return fmt.Sprintf(`You are a video search assistant. Determine if the search term matches the video caption.

Search Term: %q
Video Caption: %q

Does the search term match what is described in the video caption?
Consider:
- Synonyms (e.g., "dog" matches "puppy", "laying" matches "sleeping")
- Partial matches (e.g., "dog" matches "brown dog in snow")
- Context (e.g., "sunset" matches "golden hour")

Respond with ONLY a number from 0 to 100 representing the match percentage.
- 100 = Perfect match
- 80-99 = Strong match (synonyms, close meaning)
- 50-79 = Partial match (related concepts)
- 0-49 = Poor match (different concepts)

Your response (number only):`, query, caption)
}

func (c *openAIClient) ScoreMatch(ctx context.Context, query, caption string) (float64, error) {
	req := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: matchSystemPrompt},
			{Role: "user", Content: matchUserPrompt(query, caption)},
		},
		Temperature: 0,
		MaxTokens:   10,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var out chatCompletionResponse
	if err := postJSON(ctx, c.httpClient, c.maxRetries, c.baseURL+"/v1/chat/completions", headers, req, &out); err != nil {
		return 0, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return 0, fmt.Errorf("openai chat completion: empty choices")
	}
	return parseMatchScore(out.Choices[0].Message.Content)
}

// parseMatchScore accepts "85", "85%", "85.0" and scales to 0.0-1.0,
// clamped to the valid range.
func parseMatchScore(raw string) (float64, error) {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "%", ""))
	var v float64
	if _, err := fmt.Sscanf(s, "%f", &v); err != nil {
		return 0, fmt.Errorf("unparseable match score %q: %w", raw, err)
	}
	v = v / 100.0
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v, nil
}
