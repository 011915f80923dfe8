package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/engramhq/engram/internal/vectormath"
)

// Embedding tier dimensions. The tiers are independent representations
// and are never compared against each other.
const (
	RichDimensions = 1536
	FastDimensions = 384
)

// EmbeddingGateway produces both embedding tiers for a text in one call.
type EmbeddingGateway interface {
	Generate(ctx context.Context, text string) (vectormath.Rich, vectormath.Fast, error)
}

// ExtractedEntity is the raw output of an extraction provider before
// taxonomy normalization.
type ExtractedEntity struct {
	Name       string         `json:"name"`
	RawType    string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Mentions   []string       `json:"mentions,omitempty"`
}

// EntityExtractionProvider pulls named entities out of captured text.
type EntityExtractionProvider interface {
	Extract(ctx context.Context, text string, recentContext []string) ([]ExtractedEntity, error)
}

// ContentEnrichmentProvider elaborates a fact or goal into a structured
// payload (flashcard or strategy). An empty payload means nothing useful
// was produced and is not an error.
type ContentEnrichmentProvider interface {
	Elaborate(ctx context.Context, text string, kind Kind) (json.RawMessage, error)
}

// ---------------------------------------------------------------------------
// Dual-tier gateway
// ---------------------------------------------------------------------------

// DualTierGateway pairs an API-backed rich embedder with the on-device
// fast embedder. A rich-tier failure fails the whole Generate call; the
// dedup pipeline aborts rather than storing a record with a degraded
// rich vector.
type DualTierGateway struct {
	apiKey string
	model  string
	client *http.Client
	fast   *localEmbedder
}

// NewDualTierGateway builds the production gateway. Missing credentials
// are reported at Generate time as a ProviderError so construction stays
// infallible for wiring.
func NewDualTierGateway() *DualTierGateway {
	return &DualTierGateway{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  "text-embedding-3-small",
		client: &http.Client{Timeout: 30 * time.Second},
		fast:   newLocalEmbedder(FastDimensions),
	}
}

func (g *DualTierGateway) Generate(ctx context.Context, text string) (vectormath.Rich, vectormath.Fast, error) {
	if g.apiKey == "" {
		return nil, nil, &ProviderError{Provider: "embedding", Err: fmt.Errorf("OPENAI_API_KEY not set")}
	}
	rich, err := callEmbeddingAPI(ctx, g.client, "https://api.openai.com/v1/embeddings", g.apiKey, g.model, text)
	if err != nil {
		return nil, nil, &ProviderError{Provider: "embedding", Err: err}
	}
	return vectormath.Rich(rich), vectormath.Fast(g.fast.Embed(text)), nil
}

// Fast embeds only the on-device tier; used by the ambient engine where
// a network round-trip per keystroke batch would be unacceptable.
func (g *DualTierGateway) Fast(text string) vectormath.Fast {
	return vectormath.Fast(g.fast.Embed(text))
}

// LocalGateway embeds both tiers on-device. Used offline
// (ENGRAM_AIR_GAPPED=1) and throughout the test suite; deterministic for
// identical input.
type LocalGateway struct {
	rich *localEmbedder
	fast *localEmbedder
}

func NewLocalGateway() *LocalGateway {
	return &LocalGateway{
		rich: newLocalEmbedder(RichDimensions),
		fast: newLocalEmbedder(FastDimensions),
	}
}

func (g *LocalGateway) Generate(ctx context.Context, text string) (vectormath.Rich, vectormath.Fast, error) {
	return vectormath.Rich(g.rich.Embed(text)), vectormath.Fast(g.fast.Embed(text)), nil
}

// Fast embeds only the on-device tier.
func (g *LocalGateway) Fast(text string) vectormath.Fast {
	return vectormath.Fast(g.fast.Embed(text))
}

// NewGateway picks the gateway for the current environment: local when
// air-gapped or no API key is configured, API-backed otherwise.
func NewGateway() EmbeddingGateway {
	if os.Getenv("ENGRAM_AIR_GAPPED") == "1" || os.Getenv("OPENAI_API_KEY") == "" {
		return NewLocalGateway()
	}
	return NewDualTierGateway()
}

// callEmbeddingAPI calls an OpenAI-compatible embeddings endpoint.
func callEmbeddingAPI(ctx context.Context, client *http.Client, url, apiKey, model, text string) ([]float32, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": model,
		"input": []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return result.Data[0].Embedding, nil
}

// ---------------------------------------------------------------------------
// Entity extraction
// ---------------------------------------------------------------------------

// RuleBasedExtractor finds entities with pattern matching: capitalized
// name runs and date expressions. It is the offline/default provider and
// keeps the linker deterministic in tests.
type RuleBasedExtractor struct{}

var (
	properNameRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2}\b`)
	dateRe       = regexp.MustCompile(`(?i)\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|january|february|march|april|may|june|july|august|september|october|november|december|tomorrow|yesterday|today|\d{4}-\d{2}-\d{2})\b`)
)

func (RuleBasedExtractor) Extract(ctx context.Context, text string, recentContext []string) ([]ExtractedEntity, error) {
	seen := make(map[string]bool)
	var out []ExtractedEntity

	for _, m := range dateRe.FindAllString(text, -1) {
		key := "date|" + strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ExtractedEntity{Name: m, RawType: "date", Mentions: []string{m}})
	}

	for _, m := range properNameRe.FindAllString(text, -1) {
		if dateRe.MatchString(m) {
			continue
		}
		key := "name|" + strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		rawType := "concept"
		// single capitalized word mid-sentence is most often a name
		if !strings.Contains(m, " ") && !strings.HasPrefix(text, m) {
			rawType = "person"
		}
		out = append(out, ExtractedEntity{Name: m, RawType: rawType, Mentions: []string{m}})
	}
	return out, nil
}

// ChatExtractor asks an OpenAI-compatible chat endpoint to return
// entities as JSON.
type ChatExtractor struct {
	apiKey string
	model  string
	client *http.Client
}

func NewChatExtractor() *ChatExtractor {
	return &ChatExtractor{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  "gpt-4o-mini",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *ChatExtractor) Extract(ctx context.Context, text string, recentContext []string) ([]ExtractedEntity, error) {
	if e.apiKey == "" {
		return nil, &ProviderError{Provider: "extraction", Err: fmt.Errorf("OPENAI_API_KEY not set")}
	}
	prompt := "Extract named entities from the text as JSON: " +
		`{"entities":[{"name":"...","type":"person|date|place|event|concept","properties":{},"mentions":["..."]}]}` +
		"\n\nText: " + text
	if len(recentContext) > 0 {
		prompt += "\n\nRecent context:\n" + strings.Join(recentContext, "\n")
	}

	raw, err := callChatAPI(ctx, e.client, e.apiKey, e.model, prompt)
	if err != nil {
		return nil, &ProviderError{Provider: "extraction", Err: err}
	}
	var parsed struct {
		Entities []ExtractedEntity `json:"entities"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{Provider: "extraction", Err: fmt.Errorf("failed to parse entities: %w", err)}
	}
	return parsed.Entities, nil
}

// NewExtractor picks the extraction provider for the current environment.
func NewExtractor() EntityExtractionProvider {
	if os.Getenv("ENGRAM_AIR_GAPPED") == "1" || os.Getenv("OPENAI_API_KEY") == "" {
		return RuleBasedExtractor{}
	}
	return NewChatExtractor()
}

// ---------------------------------------------------------------------------
// Content enrichment
// ---------------------------------------------------------------------------

// ChatEnricher elaborates facts into flashcards and goals into strategy
// payloads via an OpenAI-compatible chat endpoint.
type ChatEnricher struct {
	apiKey string
	model  string
	client *http.Client
}

func NewChatEnricher() *ChatEnricher {
	return &ChatEnricher{
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  "gpt-4o-mini",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *ChatEnricher) Elaborate(ctx context.Context, text string, kind Kind) (json.RawMessage, error) {
	if e.apiKey == "" {
		return nil, &ProviderError{Provider: "enrichment", Err: fmt.Errorf("OPENAI_API_KEY not set")}
	}
	var prompt string
	switch kind {
	case KindFact:
		prompt = `Turn this fact into a flashcard as JSON {"question":"...","answer":"..."}: ` + text
	case KindGoal:
		prompt = `Turn this goal into a strategy as JSON {"goal":"...","steps":["..."]}: ` + text
	default:
		return nil, nil
	}
	raw, err := callChatAPI(ctx, e.client, e.apiKey, e.model, prompt)
	if err != nil {
		return nil, &ProviderError{Provider: "enrichment", Err: err}
	}
	return raw, nil
}

// NoopEnricher returns an empty payload; used offline.
type NoopEnricher struct{}

func (NoopEnricher) Elaborate(ctx context.Context, text string, kind Kind) (json.RawMessage, error) {
	return nil, nil
}

// NewEnricher picks the enrichment provider for the current environment.
func NewEnricher() ContentEnrichmentProvider {
	if os.Getenv("ENGRAM_AIR_GAPPED") == "1" || os.Getenv("OPENAI_API_KEY") == "" {
		return NoopEnricher{}
	}
	return NewChatEnricher()
}

// callChatAPI sends a single-turn chat completion and returns the raw
// assistant message content, which is expected to be JSON.
func callChatAPI(ctx context.Context, client *http.Client, apiKey, model, prompt string) (json.RawMessage, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}
	return json.RawMessage(result.Choices[0].Message.Content), nil
}
