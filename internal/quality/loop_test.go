package quality

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/tandem/internal/policy"
	"github.com/ShayCichocki/tandem/internal/provider"
)

// router answers critique, refine and verify prompts from scripted queues.
// When a queue runs dry its last entry repeats.
type router struct {
	mu       sync.Mutex
	critique []string
	refine   []string
	verify   []string
	calls    map[string]int
	err      error
}

func (r *router) provider() provider.Func {
	return func(ctx context.Context, prompt string, _ provider.Options) (*provider.Generation, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.calls == nil {
			r.calls = map[string]int{}
		}
		if r.err != nil {
			return nil, r.err
		}

		var kind string
		var queue *[]string
		switch {
		case strings.HasPrefix(prompt, "Critique"):
			kind, queue = "critique", &r.critique
		case strings.HasPrefix(prompt, "Improve"):
			kind, queue = "refine", &r.refine
		case strings.HasPrefix(prompt, "Compare"):
			kind, queue = "verify", &r.verify
		default:
			return nil, errors.New("unexpected prompt")
		}
		r.calls[kind]++
		if len(*queue) == 0 {
			return &provider.Generation{}, nil
		}
		out := (*queue)[0]
		if len(*queue) > 1 {
			*queue = (*queue)[1:]
		}
		return &provider.Generation{Text: out}, nil
	}
}

func (r *router) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

func testPolicy() policy.QualityPolicy {
	return policy.QualityPolicy{
		Enabled:       true,
		MaxIterations: 3,
		Threshold:     0.8,
		Verify:        true,
		CallTimeout:   time.Minute,
	}
}

func TestImproveDisabledMakesNoCalls(t *testing.T) {
	r := &router{}
	cfg := testPolicy()
	cfg.Enabled = false
	loop := New(r.provider(), cfg)

	for _, input := range []string{"", "draft", "multi\nline"} {
		res, err := loop.Improve(context.Background(), "prompt", input, "")
		require.NoError(t, err)
		assert.Equal(t, input, res.FinalResponse)
		assert.Zero(t, res.Iterations)
		assert.Equal(t, 1.0, res.QualityScore)
		assert.True(t, res.Success)
	}
	assert.Zero(t, r.count("critique")+r.count("refine")+r.count("verify"))
}

func TestImproveStopsAtThreshold(t *testing.T) {
	r := &router{critique: []string{"QUALITY_SCORE: 0.9\nISSUES:\nSUMMARY: solid"}}
	loop := New(r.provider(), testPolicy())

	res, err := loop.Improve(context.Background(), "prompt", "draft", "")
	require.NoError(t, err)
	assert.Equal(t, "draft", res.FinalResponse)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 0.9, res.QualityScore)
	assert.True(t, res.Success)
	assert.Zero(t, r.count("refine"))
}

func TestImproveRejectedVerificationKeepsOriginal(t *testing.T) {
	r := &router{
		critique: []string{"QUALITY_SCORE: 0.4\nISSUES:\n- [correctness|high] wrong | FIX: fix it\nSUMMARY: weak"},
		refine:   []string{"REFINED_RESPONSE:\nbetter draft\nIMPROVEMENTS: fixed"},
		verify:   []string{"IMPROVED: no\nCONFIDENCE: 0.9\nRECOMMENDATION: reject"},
	}
	loop := New(r.provider(), testPolicy())

	res, err := loop.Improve(context.Background(), "prompt", "draft", "")
	require.NoError(t, err)
	assert.Equal(t, "draft", res.FinalResponse)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, r.count("refine"), "exactly one refinement attempt")
	assert.Equal(t, 1, r.count("verify"))
	assert.Empty(t, res.Improvements)
	assert.False(t, res.Success)
	require.Len(t, res.Verifications, 1)
	assert.False(t, res.Verifications[0].Improved)
}

func TestImproveUnparseableVerificationIsNotImprovement(t *testing.T) {
	r := &router{
		critique: []string{"QUALITY_SCORE: 0.2"},
		refine:   []string{"something else"},
		verify:   []string{"I cannot tell."},
	}
	loop := New(r.provider(), testPolicy())

	res, err := loop.Improve(context.Background(), "prompt", "draft", "")
	require.NoError(t, err)
	assert.Equal(t, "draft", res.FinalResponse)
	assert.Equal(t, 1, r.count("refine"))
}

func TestImproveAdoptsVerifiedRefinements(t *testing.T) {
	r := &router{
		critique: []string{
			"QUALITY_SCORE: 0.5\nISSUES:\n- [clarity|low] vague\nSUMMARY: meh",
			"QUALITY_SCORE: 0.85\nSUMMARY: good",
		},
		refine: []string{"REFINED_RESPONSE:\nsecond draft\nIMPROVEMENTS: clearer wording"},
		verify: []string{"IMPROVED: yes\nCONFIDENCE: 0.8\nRECOMMENDATION: accept"},
	}
	loop := New(r.provider(), testPolicy())

	res, err := loop.Improve(context.Background(), "prompt", "draft", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "second draft", res.FinalResponse)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 0.85, res.QualityScore)
	assert.Equal(t, []string{"clearer wording"}, res.Improvements)
	assert.Len(t, res.Critiques, 2)
	assert.True(t, res.Success)
}

func TestImproveWithoutVerificationRunsToCap(t *testing.T) {
	r := &router{
		critique: []string{"QUALITY_SCORE: 0.1\nISSUES:\n- one\n- two"},
		refine:   []string{"plain rewrite"},
	}
	cfg := testPolicy()
	cfg.Verify = false
	loop := New(r.provider(), cfg)

	res, err := loop.Improve(context.Background(), "prompt", "draft", "")
	require.NoError(t, err)
	assert.Equal(t, "plain rewrite", res.FinalResponse)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, r.count("refine"))
	assert.Zero(t, r.count("verify"))
	assert.Equal(t, []string{
		"Addressed 2 issue(s) from the critique",
		"Addressed 2 issue(s) from the critique",
		"Addressed 2 issue(s) from the critique",
	}, res.Improvements)
	assert.False(t, res.Success)
}

func TestImprovePropagatesProviderErrors(t *testing.T) {
	boom := errors.New("connection refused")
	r := &router{err: boom}
	loop := New(r.provider(), testPolicy())

	_, err := loop.Improve(context.Background(), "prompt", "draft", "")
	assert.ErrorIs(t, err, boom)
}

func TestImproveAppliesCallTimeout(t *testing.T) {
	var deadline time.Time
	p := provider.Func(func(ctx context.Context, _ string, _ provider.Options) (*provider.Generation, error) {
		deadline, _ = ctx.Deadline()
		return &provider.Generation{Text: "QUALITY_SCORE: 1"}, nil
	})
	loop := New(p, testPolicy())

	start := time.Now()
	_, err := loop.Improve(context.Background(), "prompt", "draft", "")
	require.NoError(t, err)
	assert.WithinDuration(t, start.Add(time.Minute), deadline, 5*time.Second)
}

func TestImproveCancelled(t *testing.T) {
	r := &router{critique: []string{"QUALITY_SCORE: 0.1"}}
	loop := New(r.provider(), testPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Improve(ctx, "prompt", "draft", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.count("critique"))
}

func TestSetPolicy(t *testing.T) {
	loop := New(provider.Echo(), testPolicy())
	cfg := testPolicy()
	cfg.Enabled = false
	cfg.MaxIterations = 0
	loop.SetPolicy(cfg)

	got := loop.Policy()
	assert.False(t, got.Enabled)
	assert.Equal(t, policy.DefaultMaxIterations, got.MaxIterations)
}

func TestCritiqueIgnoresEnabledFlag(t *testing.T) {
	r := &router{critique: []string{"QUALITY_SCORE: 0.3\nSUMMARY: poor"}}
	cfg := testPolicy()
	cfg.Enabled = false
	loop := New(r.provider(), cfg)

	c, err := loop.Critique(context.Background(), "prompt", "out", "")
	require.NoError(t, err)
	assert.Equal(t, 0.3, c.QualityScore)
	assert.Equal(t, "poor", c.Summary)
}
