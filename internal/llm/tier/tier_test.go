package tier_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptexec/internal/llm/circuitbreaker"
	"github.com/ahrav/go-promptexec/internal/llm/tier"
)

func testTiers() []tier.Config {
	return []tier.Config{
		{Name: "premium", Model: "big", MaxTokens: 100, Temperature: 0.5, FailureThreshold: 3, MaxRetries: 2},
		{Name: "standard", Model: "mid", MaxTokens: 100, FailureThreshold: 3, MaxRetries: 1},
		{Name: "budget", Model: "small", MaxTokens: 100, FailureThreshold: 3, Cooldown: time.Minute},
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := tier.NewPolicy(testTiers()...)
	require.NoError(t, err)

	assert.Equal(t, "premium", p.Default())
	assert.Equal(t, []string{"premium", "standard", "budget"}, p.Names())
	assert.Equal(t, 3, p.Len())

	cfg, ok := p.Lookup("standard")
	require.True(t, ok)
	assert.Equal(t, "mid", cfg.Model)
	assert.Equal(t, 2, cfg.Attempts())

	_, ok = p.Lookup("nope")
	assert.False(t, ok)
}

func TestNewPolicyErrors(t *testing.T) {
	valid := testTiers()[0]

	tests := []struct {
		name    string
		tiers   []tier.Config
		wantErr error
	}{
		{name: "empty", tiers: nil, wantErr: tier.ErrEmptyPolicy},
		{name: "duplicate", tiers: []tier.Config{valid, valid}, wantErr: tier.ErrDuplicateTier},
		{name: "missing name", tiers: []tier.Config{func() tier.Config { c := valid; c.Name = ""; return c }()}, wantErr: tier.ErrInvalidTier},
		{name: "missing model", tiers: []tier.Config{func() tier.Config { c := valid; c.Model = ""; return c }()}, wantErr: tier.ErrInvalidTier},
		{name: "zero max tokens", tiers: []tier.Config{func() tier.Config { c := valid; c.MaxTokens = 0; return c }()}, wantErr: tier.ErrInvalidTier},
		{name: "temperature above one", tiers: []tier.Config{func() tier.Config { c := valid; c.Temperature = 1.5; return c }()}, wantErr: tier.ErrInvalidTier},
		{name: "zero threshold", tiers: []tier.Config{func() tier.Config { c := valid; c.FailureThreshold = 0; return c }()}, wantErr: tier.ErrInvalidTier},
		{name: "negative retries", tiers: []tier.Config{func() tier.Config { c := valid; c.MaxRetries = -1; return c }()}, wantErr: tier.ErrInvalidTier},
		{name: "negative timeout", tiers: []tier.Config{func() tier.Config { c := valid; c.Timeout = -time.Second; return c }()}, wantErr: tier.ErrInvalidTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tier.NewPolicy(tt.tiers...)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == tier.ErrInvalidTier {
				var ve validator.ValidationErrors
				assert.ErrorAs(t, err, &ve)
			}
		})
	}
}

func TestPolicyFrom(t *testing.T) {
	p, err := tier.NewPolicy(testTiers()...)
	require.NoError(t, err)

	tests := []struct {
		name    string
		start   string
		want    []string
		wantErr error
	}{
		{name: "default starts at top", start: "", want: []string{"premium", "standard", "budget"}},
		{name: "middle", start: "standard", want: []string{"standard", "budget"}},
		{name: "last", start: "budget", want: []string{"budget"}},
		{name: "unknown", start: "ultra", wantErr: tier.ErrUnknownTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := p.From(tt.start)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			names := make([]string, len(chain))
			for i, c := range chain {
				names[i] = c.Name
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestPolicyIsImmutable(t *testing.T) {
	tiers := testTiers()
	p, err := tier.NewPolicy(tiers...)
	require.NoError(t, err)

	tiers[0].Model = "mutated"
	chain, _ := p.From("")
	chain[0].Model = "mutated"
	p.Tiers()[0].Model = "mutated"

	cfg, _ := p.Lookup("premium")
	assert.Equal(t, "big", cfg.Model)
}

func TestBreakerConfigs(t *testing.T) {
	p, err := tier.NewPolicy(testTiers()...)
	require.NoError(t, err)

	got := p.BreakerConfigs()
	require.Len(t, got, 3)
	assert.Equal(t, circuitbreaker.Config{Name: "budget", FailureThreshold: 3, Cooldown: time.Minute}, got[2])
}

func TestDefaultTiersValid(t *testing.T) {
	p, err := tier.NewPolicy(tier.DefaultTiers()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"premium", "standard", "budget"}, p.Names())
}

func TestParse(t *testing.T) {
	p, err := tier.Parse([]byte(`
tiers:
  - name: fast
    model: m-fast
    backend: gateway
    temperature: 0.7
    timeout: 15s
    max_retries: 3
    cooldown: 2m
  - name: slow
    model: m-slow
    max_tokens: 512
    failure_threshold: 2
`))
	require.NoError(t, err)

	fast, _ := p.Lookup("fast")
	assert.Equal(t, tier.Config{
		Name: "fast", Model: "m-fast", Backend: "gateway",
		MaxTokens: tier.DefaultMaxTokens, Temperature: 0.7,
		FailureThreshold: tier.DefaultFailureThreshold, Cooldown: 2 * time.Minute,
		Timeout: 15 * time.Second, MaxRetries: 3,
	}, fast)

	slow, _ := p.Lookup("slow")
	assert.Equal(t, 512, slow.MaxTokens)
	assert.Equal(t, 2, slow.FailureThreshold)
	assert.Equal(t, tier.DefaultTimeout, slow.Timeout)
	assert.Zero(t, slow.MaxRetries)
}

func TestParseErrors(t *testing.T) {
	_, err := tier.Parse([]byte("tiers: [unclosed"))
	assert.Error(t, err)

	_, err = tier.Parse([]byte("tiers: []"))
	assert.ErrorIs(t, err, tier.ErrEmptyPolicy)

	_, err = tier.Parse([]byte("tiers:\n  - name: x\n"))
	assert.ErrorIs(t, err, tier.ErrInvalidTier)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  - name: only\n    model: m\n"), 0o600))

	p, err := tier.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "only", p.Default())

	_, err = tier.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
