package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"EnergyScout/internal/config"
	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

const searchPrompt = `You are an energy sector analyst covering the Middle East and global metering markets.
Find the latest news, product releases, regulatory updates and technology advances about: %q.
Focus on the last 7 to 30 days.

Search priority:
1. Egyptian government sites (Ministry of Electricity and Renewable Energy, EEHC), Egyptian news portals and Arabic energy journals.
2. Major international updates in the same sector.

Write an executive summary in English, translating Arabic sources where needed.
For each item give a bold headline, a short summary, the source origin and the implication for the energy and metering sector.`

const draftPrompt = `You are a professional energy sector analyst.
Turn the news summary below into a clean email newsletter with a professional subject line,
a polite opening, the news items under clear headings and a short "Analyst Take" at the end.

Return JSON with exactly two string fields, "subject" and "body". The body must be plain text.

News summary:
%s`

// KeySource resolves the API key for each call so that a key saved in the
// user profile takes effect without a restart.
type KeySource func(ctx context.Context) string

// GeminiClient implements ports.ReportBackend on the Gemini REST API with
// Google Search grounding.
type GeminiClient struct {
	endpoint   string
	model      string
	keys       KeySource
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ ports.ReportBackend = (*GeminiClient)(nil)

// NewGeminiClient builds a client from configuration. When keys is nil the
// configured API key is used.
func NewGeminiClient(cfg config.GeminiConfig, keys KeySource) *GeminiClient {
	if keys == nil {
		static := cfg.APIKey
		keys = func(context.Context) string { return static }
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &GeminiClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		model:    cfg.Model,
		keys:     keys,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	Tools            []tool            `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web *struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Search runs a grounded search for topic and returns the prose answer with
// its raw citation list.
func (c *GeminiClient) Search(ctx context.Context, topic string) (domain.SearchResult, error) {
	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: fmt.Sprintf(searchPrompt, topic)}}}},
		Tools:    []tool{{GoogleSearch: &struct{}{}}},
	}

	resp, err := c.generate(ctx, req)
	if err != nil {
		return domain.SearchResult{}, err
	}
	if len(resp.Candidates) == 0 {
		return domain.SearchResult{}, fmt.Errorf("gemini returned no candidates")
	}

	result := domain.SearchResult{Text: resp.text()}
	if result.Text == "" {
		result.Text = "No results found."
	}

	if meta := resp.Candidates[0].GroundingMetadata; meta != nil {
		for _, chunk := range meta.GroundingChunks {
			if chunk.Web == nil {
				continue
			}
			result.Sources = append(result.Sources, domain.Source{
				Title: chunk.Web.Title,
				URL:   chunk.Web.URI,
			})
		}
	}

	return result, nil
}

// DraftEmail asks for a structured subject/body pair for the report text.
func (c *GeminiClient) DraftEmail(ctx context.Context, reportText string) (domain.EmailDraft, error) {
	req := generateRequest{
		Contents:         []content{{Parts: []part{{Text: fmt.Sprintf(draftPrompt, reportText)}}}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json"},
	}

	resp, err := c.generate(ctx, req)
	if err != nil {
		return domain.EmailDraft{}, err
	}

	raw := stripCodeFence(resp.text())
	if raw == "" {
		return domain.EmailDraft{}, fmt.Errorf("empty draft payload")
	}

	var draft domain.EmailDraft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return domain.EmailDraft{}, fmt.Errorf("decode draft: %w", err)
	}

	return draft, nil
}

func (c *GeminiClient) generate(ctx context.Context, payload generateRequest) (generateResponse, error) {
	if c == nil || c.httpClient == nil {
		return generateResponse{}, fmt.Errorf("gemini client is nil")
	}
	if c.endpoint == "" || c.model == "" {
		return generateResponse{}, fmt.Errorf("gemini client misconfigured")
	}
	apiKey := strings.TrimSpace(c.keys(ctx))
	if apiKey == "" {
		return generateResponse{}, fmt.Errorf("gemini api key is missing")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return generateResponse{}, fmt.Errorf("wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return generateResponse{}, fmt.Errorf("marshal gemini payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent", c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return generateResponse{}, fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return generateResponse{}, fmt.Errorf("gemini error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return generateResponse{}, fmt.Errorf("decode gemini response: %w", err)
	}

	return out, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
