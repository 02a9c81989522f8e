// Package llm provides the two-tier resilient model client: a local model
// for high-volume chunk work, a cloud model for final synthesis, and an
// embedder, all behind a shared retry policy.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/raphaelgruber/memfed/internal/config"
	"github.com/raphaelgruber/memfed/internal/models"
)

// Tier selects which backing model serves a call.
type Tier int

const (
	// TierLocal serves chunk-level calls: summaries, headers, extraction.
	TierLocal Tier = iota
	// TierCloud serves answer synthesis.
	TierCloud
)

func (t Tier) String() string {
	if t == TierCloud {
		return "cloud"
	}
	return "local"
}

// Client is the resilient model client. All methods retry transient
// failures up to the policy's budget and return *UnavailableError on
// exhaustion or fatal errors.
type Client struct {
	local      llms.Model
	cloud      llms.Model
	embedder   *Embedder
	retry      Policy
	localName  string
	cloudName  string
}

// New builds a client from configuration: Ollama for the local tier and
// the configured provider for the cloud tier.
func New(cfg config.Config) (*Client, error) {
	local, err := ollama.New(
		ollama.WithModel(cfg.LocalModel),
		ollama.WithServerURL(cfg.OllamaHost),
	)
	if err != nil {
		return nil, fmt.Errorf("create local model: %w", err)
	}

	var cloud llms.Model
	switch cfg.CloudProvider {
	case config.ProviderOllama:
		cloud, err = ollama.New(
			ollama.WithModel(cfg.CloudModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama cloud model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		cloud, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.CloudModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		cloud, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.CloudModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported cloud provider: %s", cfg.CloudProvider)
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	retry := DefaultPolicy()
	retry.MaxAttempts = cfg.RetryAttempts
	retry.CallTimeout = cfg.CallTimeout

	return &Client{
		local:     local,
		cloud:     cloud,
		embedder:  embedder,
		retry:     retry,
		localName: cfg.LocalModel,
		cloudName: cfg.CloudModel,
	}, nil
}

// NewWithBackends wires a client from pre-built models. Used by tests and
// by callers that manage provider construction themselves.
func NewWithBackends(local, cloud llms.Model, embedder *Embedder, retry Policy) *Client {
	return &Client{local: local, cloud: cloud, embedder: embedder, retry: retry}
}

// Embedder exposes the underlying embedder.
func (c *Client) Embedder() *Embedder { return c.embedder }

func (c *Client) model(tier Tier) llms.Model {
	if tier == TierCloud {
		return c.cloud
	}
	return c.local
}

// Generate produces text from a bare prompt on the given tier.
func (c *Client) Generate(ctx context.Context, tier Tier, prompt string) (string, error) {
	var out string
	err := c.retry.Do(ctx, "generate/"+tier.String(), func(ctx context.Context) error {
		response, err := llms.GenerateFromSinglePrompt(ctx, c.model(tier), prompt)
		if err != nil {
			return err
		}
		out = response
		return nil
	})
	return out, err
}

// GenerateWithSystem produces text from a system plus user prompt pair.
func (c *Client) GenerateWithSystem(ctx context.Context, tier Tier, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, userPrompt),
	}

	var out string
	err := c.retry.Do(ctx, "generate/"+tier.String(), func(ctx context.Context) error {
		response, err := c.model(tier).GenerateContent(ctx, messages)
		if err != nil {
			return err
		}
		if len(response.Choices) == 0 {
			return fmt.Errorf("no response choices")
		}
		out = response.Choices[0].Content
		return nil
	})
	return out, err
}

// Summarize produces a dense factual summary of text on the local tier.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	return c.Generate(ctx, TierLocal, fmt.Sprintf(summaryPrompt, text))
}

// MergeSummaries combines summaries of two adjacent document halves.
func (c *Client) MergeSummaries(ctx context.Context, first, second string) (string, error) {
	return c.Generate(ctx, TierLocal, fmt.Sprintf(mergeSummariesPrompt, first, second))
}

// ContextualHeader writes a 1-2 sentence header situating a chunk within
// the whole document.
func (c *Client) ContextualHeader(ctx context.Context, docSummary, chunkText string) (string, error) {
	header, err := c.Generate(ctx, TierLocal, fmt.Sprintf(headerPrompt, docSummary, chunkText))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(header), `"`)), nil
}

// ExtractEntities pulls typed entities out of chunk text. Output that
// violates the entity schema is a fatal error.
func (c *Client) ExtractEntities(ctx context.Context, text string) ([]models.Entity, error) {
	raw, err := c.GenerateWithSystem(ctx, TierLocal, entityExtractionSystem, fmt.Sprintf(entityExtractionUser, text))
	if err != nil {
		return nil, err
	}
	entities, err := parseEntities(raw)
	if err != nil {
		return nil, Fatal("extract_entities", err)
	}
	return entities, nil
}

// ExtractRelations pulls subject-predicate-object triples out of chunk
// text. Output that violates the relation schema is a fatal error.
func (c *Client) ExtractRelations(ctx context.Context, text string) ([]models.Relation, error) {
	raw, err := c.GenerateWithSystem(ctx, TierLocal, relationExtractionSystem, fmt.Sprintf(relationExtractionUser, text))
	if err != nil {
		return nil, err
	}
	relations, err := parseRelations(raw)
	if err != nil {
		return nil, Fatal("extract_relations", err)
	}
	return relations, nil
}

// FocusEntity extracts the primary entity or concept from a query.
// Returns "" when the model finds none.
func (c *Client) FocusEntity(ctx context.Context, query string) (string, error) {
	raw, err := c.GenerateWithSystem(ctx, TierLocal, focusEntitySystem, fmt.Sprintf(focusEntityUser, query))
	if err != nil {
		return "", err
	}
	entity := strings.Trim(strings.TrimSpace(raw), `"'`)
	if strings.EqualFold(entity, "none") {
		return "", nil
	}
	return entity, nil
}

// ExpandQuery rewrites a terse search term into a broad question.
func (c *Client) ExpandQuery(ctx context.Context, query string) (string, error) {
	raw, err := c.GenerateWithSystem(ctx, TierLocal, expandQuerySystem, fmt.Sprintf(expandQueryUser, query))
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(raw), `"`), nil
}

// SynthesizeAnswer generates the final answer on the cloud tier from the
// pooled chunk context and the graph neighborhood.
func (c *Client) SynthesizeAnswer(ctx context.Context, query, refinedQuery, graphContext, chunkContext string) (string, error) {
	if graphContext == "" {
		graphContext = "No relationships found."
	}
	user := fmt.Sprintf(synthesisUser, query, refinedQuery, graphContext, chunkContext)
	return c.GenerateWithSystem(ctx, TierCloud, synthesisSystem, user)
}

// Embed generates an embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.retry.Do(ctx, "embed", func(ctx context.Context) error {
		vec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = vec
		return nil
	})
	return out, err
}
