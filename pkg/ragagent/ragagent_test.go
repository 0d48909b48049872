package ragagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/agentic-fabric/pkg/persistence"
	"github.com/cuemby/agentic-fabric/pkg/types"
)

func newFacade(t *testing.T, seed []map[string]any) *persistence.ReadOnlyFacade {
	t.Helper()
	mem := persistence.NewInMemory()
	mem.Seed("leads", seed)
	allow := types.NewAllowlist([]string{"leads"}, nil)
	svc := persistence.NewService(mem, allow)
	return persistence.NewReadOnlyFacade(svc)
}

func baseCfg() Config {
	return Config{Table: "leads", DefaultLimit: 20, MaxLimit: 200, ReformulationMaxAttempts: 3}
}

func task(payload map[string]any) types.Task {
	return types.Task{TaskID: "task-1", Flow: "retrieve_leads", Payload: payload}
}

func TestRun_ExplicitFiltersHappyPath(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "email": "a@acme.io", "company": "Acme", "status": "new"},
		{"id": "2", "email": "b@acme.io", "company": "Acme", "status": "won"},
	})
	a := New(facade, baseCfg(), nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"filters": map[string]any{"status": "new"},
	}))
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, env.Status)
	assert.Len(t, env.Records, 1)
	assert.Equal(t, 1, env.Metadata.TotalCount)
}

func TestRun_RuleBasedExtractionFromPrompt(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "email": "jane@acme.io", "company": "Acme"},
	})
	a := New(facade, baseCfg(), nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"prompt": "find the lead with email jane@acme.io",
	}))
	require.NoError(t, err)
	assert.Len(t, env.Records, 1)
}

func TestRun_DefaultListOnEmptyPromptReturnsEverything(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "company": "Acme"},
		{"id": "2", "company": "Globex"},
	})
	cfg := baseCfg()
	cfg.DefaultListOnEmpty = true
	a := New(facade, cfg, nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"prompt":      "list everything",
		"return_json": true,
	}))
	require.NoError(t, err)
	assert.Len(t, env.Records, 2)
}

func TestRun_ReformulationDropsEmailThenSucceeds(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "email": "other@acme.io", "company": "Acme Corp"},
	})
	a := New(facade, baseCfg(), nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"filters": map[string]any{"email": "missing@acme.io", "company": "Acme Corp"},
	}))
	require.NoError(t, err)
	assert.Len(t, env.Records, 1)
	assert.NotEmpty(t, env.Metadata.ReformulationAttempts)
	assert.Equal(t, "drop_email", env.Metadata.ReformulationAttempts[0].Reason)
}

func TestRun_ReformulationShortensCompanySuffix(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "company": "Acme"},
	})
	a := New(facade, baseCfg(), nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"filters": map[string]any{"company": "Acme GmbH"},
	}))
	require.NoError(t, err)
	require.NotEmpty(t, env.Metadata.ReformulationAttempts)

	var reasons []string
	for _, a := range env.Metadata.ReformulationAttempts {
		reasons = append(reasons, a.Reason)
	}
	assert.Contains(t, reasons, "shorten_company")
}

func TestRun_NoFallbackProviderLeavesEmptyResult(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "company": "Acme"},
	})
	a := New(facade, baseCfg(), nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"filters": map[string]any{"status": "nonexistent"},
	}))
	require.NoError(t, err)
	assert.Empty(t, env.Records)
	assert.Equal(t, 0, env.Metadata.TotalCount)
}

type fakeProvider struct {
	reasonCalls int
	answer      string
	err         error
}

func (f *fakeProvider) ExtractFilters(ctx context.Context, prompt string) (map[string]any, error) {
	return nil, nil
}

func (f *fakeProvider) Reason(ctx context.Context, prompt string, rows []map[string]any) (string, error) {
	f.reasonCalls++
	return f.answer, f.err
}

func TestRun_FallbackInvokedWhenDeterministicRetrievalEmpty(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "company": "Acme"},
	})
	cfg := baseCfg()
	cfg.MaxFallbacksPerMin = 10
	provider := &fakeProvider{answer: "no leads match that description"}
	a := New(facade, cfg, provider)

	env, err := a.Run(context.Background(), task(map[string]any{
		"filters": map[string]any{"status": "nonexistent"},
		"prompt":  "are there any churned leads at Acme?",
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, provider.reasonCalls)
	assert.Equal(t, "agent", env.Metadata.Fallback)
	require.Len(t, env.Records, 1)
	assert.Equal(t, "no leads match that description", env.Records[0].Content["answer"])
}

func TestRun_FallbackSuppressedWhenBudgetExhausted(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "company": "Acme"},
	})
	cfg := baseCfg()
	cfg.MaxFallbacksPerMin = 1
	provider := &fakeProvider{answer: "answer"}
	a := New(facade, cfg, provider)

	req := map[string]any{
		"filters": map[string]any{"status": "nonexistent"},
		"prompt":  "any matches?",
	}

	env1, err := a.Run(context.Background(), task(req))
	require.NoError(t, err)
	assert.Equal(t, "agent", env1.Metadata.Fallback)

	env2, err := a.Run(context.Background(), task(req))
	require.NoError(t, err)
	assert.Equal(t, "suppressed", env2.Metadata.Fallback)
	assert.Equal(t, 1, provider.reasonCalls)
}

func TestRun_CacheHitSkipsSecondQuery(t *testing.T) {
	facade := newFacade(t, []map[string]any{
		{"id": "1", "status": "new"},
	})
	a := New(facade, baseCfg(), nil)

	req := map[string]any{"filters": map[string]any{"status": "new"}}

	env1, err := a.Run(context.Background(), task(req))
	require.NoError(t, err)
	assert.Equal(t, "miss", env1.Metadata.Cache)

	env2, err := a.Run(context.Background(), task(req))
	require.NoError(t, err)
	assert.Equal(t, "hit", env2.Metadata.Cache)
}

func TestRun_LimitClampedToMaxRegardlessOfInput(t *testing.T) {
	var seed []map[string]any
	for i := 0; i < 10; i++ {
		seed = append(seed, map[string]any{"status": "new"})
	}
	facade := newFacade(t, seed)
	cfg := baseCfg()
	cfg.MaxLimit = 5
	a := New(facade, cfg, nil)

	env, err := a.Run(context.Background(), task(map[string]any{
		"filters": map[string]any{"status": "new"},
		"limit":   100000,
	}))
	require.NoError(t, err)
	require.NotNil(t, env.Metadata.Limit)
	assert.Equal(t, 5, *env.Metadata.Limit)
	assert.Len(t, env.Records, 5)
}

func TestRun_MalformedPayloadReturnsValidationErrorEnvelope(t *testing.T) {
	facade := newFacade(t, nil)
	a := New(facade, baseCfg(), nil)

	task := types.Task{TaskID: "task-1", Payload: map[string]any{"limit": "not-a-number"}}
	env, err := a.Run(context.Background(), task)
	require.NoError(t, err) // malformed payload is a graceful error envelope, not a Go error
	assert.Equal(t, types.StatusError, env.Status)
}

func TestRuleBasedExtract(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   map[string]any
	}{
		{"email only", "contact jane@acme.io please", map[string]any{"email": "jane@acme.io"}},
		{"company suffix", "find leads at Acme Corp", map[string]any{"company": "Acme Corp"}},
		{"no match", "hello there", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ruleBasedExtract(tt.prompt)
			for k, v := range tt.want {
				assert.Equal(t, v, got[k])
			}
		})
	}
}

func TestDefaultSuffixStripper(t *testing.T) {
	assert.Equal(t, "Acme", DefaultSuffixStripper("Acme GmbH"))
	assert.Equal(t, "Acme", DefaultSuffixStripper("Acme Inc."))
	assert.Equal(t, "Solo", DefaultSuffixStripper("Solo"))
}
