package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel scripts responses and failures for one tier.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	resp := ""
	if i < len(f.responses) {
		resp = f.responses[i]
	} else if len(f.responses) > 0 {
		resp = f.responses[len(f.responses)-1]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: resp}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[:len(texts)], nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[0], nil
}

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func testClient(local, cloud *fakeModel) *Client {
	emb := NewEmbedderWithModel(&fakeEmbedder{vectors: [][]float32{{0.1, 0.2, 0.3}}}, 3)
	return NewWithBackends(local, cloud, emb, fastPolicy(3))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"invalid api key", errors.New("Incorrect API key provided"), KindFatal},
		{"authentication", errors.New("authentication failed"), KindFatal},
		{"unauthorized", errors.New("request unauthorized"), KindFatal},
		{"http 401", errors.New("API returned unexpected status code: 401"), KindFatal},
		{"http 403", errors.New("API returned unexpected status code: 403"), KindFatal},
		{"billing", errors.New("billing hard limit reached"), KindFatal},
		{"credit balance", errors.New("your credit balance is too low"), KindFatal},
		{"rate limit is retryable", errors.New("rate limit exceeded, retry after 2s"), KindTransient},
		{"timeout", context.DeadlineExceeded, KindTransient},
		{"connection reset", errors.New("read tcp: connection reset by peer"), KindTransient},
		{"http 404", errors.New("status code: 404"), KindTransient},
		{"unknown error", errors.New("something odd happened"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPolicyDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPolicyDo_StopsOnFatal(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("invalid api key")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal must not retry)", calls)
	}
	if !IsFatal(err) {
		t.Errorf("expected fatal UnavailableError, got %v", err)
	}
}

func TestPolicyDo_KeepsUpstreamClassification(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "embed", func(ctx context.Context) error {
		calls++
		return Fatal("embed", errors.New("dimension mismatch: got 2, want 3"))
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (pre-classified fatal must not retry)", calls)
	}
	if !IsFatal(err) {
		t.Errorf("expected fatal UnavailableError, got %v", err)
	}
	if IsTransient(err) {
		t.Errorf("fatal error reported as transient: %v", err)
	}
}

func TestClientEmbed_DimensionMismatchNotRetried(t *testing.T) {
	fe := &fakeEmbedder{vectors: [][]float32{{0.1, 0.2}}}
	client := NewWithBackends(&fakeModel{}, &fakeModel{}, NewEmbedderWithModel(fe, 3), fastPolicy(3))

	_, err := client.Embed(context.Background(), "some text")
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if fe.calls != 1 {
		t.Errorf("embedder calls = %d, want 1", fe.calls)
	}
}

func TestPolicyDo_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !IsTransient(err) {
		t.Errorf("expected transient UnavailableError, got %v", err)
	}

	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("error is not *UnavailableError: %v", err)
	}
	if ue.Op != "test" {
		t.Errorf("Op = %q, want test", ue.Op)
	}
}

func TestGenerateWithSystem_RetriesAcrossFailures(t *testing.T) {
	local := &fakeModel{
		responses: []string{"", "", "hello"},
		errs:      []error{errors.New("timeout awaiting response"), errors.New("connection reset"), nil},
	}
	c := testClient(local, &fakeModel{})

	got, err := c.GenerateWithSystem(context.Background(), TierLocal, "sys", "user")
	if err != nil {
		t.Fatalf("GenerateWithSystem() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want hello", got)
	}
	if local.calls != 3 {
		t.Errorf("calls = %d, want 3", local.calls)
	}
}

func TestParseEntities(t *testing.T) {
	raw := `Here are the entities I found:
ENTITY|Paris|location
ENTITY|Anne Hidalgo|PERSON

Some trailing chatter.`

	entities, err := parseEntities(raw)
	if err != nil {
		t.Fatalf("parseEntities() error = %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(entities))
	}
	if entities[0].Name != "Paris" || entities[0].Type != "location" {
		t.Errorf("unexpected first entity: %+v", entities[0])
	}
	if entities[1].Type != "person" {
		t.Errorf("type not normalized to lowercase: %+v", entities[1])
	}
}

func TestParseEntities_MalformedIsError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing fields", "ENTITY|Paris"},
		{"unknown type", "ENTITY|Paris|city"},
		{"empty name", "ENTITY| |location"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseEntities(tt.raw); err == nil {
				t.Errorf("expected error for %q", tt.raw)
			}
		})
	}
}

func TestParseRelations(t *testing.T) {
	raw := `RELATION|Paris|CAPITAL_OF|France
RELATION|Eiffel Tower|located in|Paris`

	relations, err := parseRelations(raw)
	if err != nil {
		t.Fatalf("parseRelations() error = %v", err)
	}
	if len(relations) != 2 {
		t.Fatalf("got %d relations, want 2", len(relations))
	}
	if relations[0].Subject != "Paris" || relations[0].Object != "France" {
		t.Errorf("unexpected first relation: %+v", relations[0])
	}
}

func TestParseRelations_MalformedIsError(t *testing.T) {
	if _, err := parseRelations("RELATION|Paris|France"); err == nil {
		t.Error("expected error for missing field")
	}
}

func TestExtractEntities_MalformedOutputIsFatal(t *testing.T) {
	local := &fakeModel{responses: []string{"ENTITY|Paris|city"}}
	c := testClient(local, &fakeModel{})

	_, err := c.ExtractEntities(context.Background(), "some text")
	if !IsFatal(err) {
		t.Errorf("expected fatal error for schema violation, got %v", err)
	}
	if local.calls != 1 {
		t.Errorf("calls = %d, want 1 (schema violations must not retry)", local.calls)
	}
}

func TestFocusEntity(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"plain entity", "Paris", "Paris"},
		{"quoted entity", `"Requirements Analysis"`, "Requirements Analysis"},
		{"none", "None", ""},
		{"none lowercase", "none", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(&fakeModel{responses: []string{tt.response}}, &fakeModel{})
			got, err := c.FocusEntity(context.Background(), "what about paris?")
			if err != nil {
				t.Fatalf("FocusEntity() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbedder_DimensionMismatchIsFatal(t *testing.T) {
	emb := NewEmbedderWithModel(&fakeEmbedder{vectors: [][]float32{{0.1, 0.2}}}, 3)

	_, err := emb.Embed(context.Background(), "text")
	if !IsFatal(err) {
		t.Errorf("expected fatal error on dimension mismatch, got %v", err)
	}
}

func TestSynthesizeAnswer_UsesCloudTier(t *testing.T) {
	local := &fakeModel{responses: []string{"local should not answer"}}
	cloud := &fakeModel{responses: []string{"Paris is the capital of France."}}
	c := testClient(local, cloud)

	got, err := c.SynthesizeAnswer(context.Background(), "capital of france?", "What is the capital of France?", "- Paris CAPITAL_OF France", "- Paris is the capital (Src: geo.md)")
	if err != nil {
		t.Fatalf("SynthesizeAnswer() error = %v", err)
	}
	if got != "Paris is the capital of France." {
		t.Errorf("got %q", got)
	}
	if cloud.calls != 1 || local.calls != 0 {
		t.Errorf("cloud calls = %d, local calls = %d; synthesis must use cloud tier", cloud.calls, local.calls)
	}
}

func TestUnavailableError_Message(t *testing.T) {
	err := Fatal("embed", fmt.Errorf("dimension mismatch"))
	want := "llm embed: fatal: dimension mismatch"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
