package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/crawl-scheduler/pkg/config"
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

func TestIsSkip(t *testing.T) {
	tests := []struct {
		score float64
		skip  bool
	}{
		{1.0, false},
		{0.001, false},
		{1e9, false},
		{0, true},
		{-1, true},
		{math.NaN(), true},
		{math.Inf(1), true},
		{math.Inf(-1), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.skip, IsSkip(tt.score), "IsSkip(%v)", tt.score)
	}
	assert.True(t, IsSkip(SkipScore))
}

func TestFixedScorer(t *testing.T) {
	s := FixedScorer(2.5)

	assert.Equal(t, 2.5, s.Score(models.URLRecord{URL: "http://a.example/"}))
	assert.Equal(t, 2.5, s.Score(models.URLRecord{URL: "http://a.example/x/y/z"}))
}

func TestPathDepthScorer(t *testing.T) {
	tests := []struct {
		name    string
		rec     models.URLRecord
		want    float64
		skipped bool
	}{
		{"root", models.URLRecord{URL: "http://a.example/"}, 1.0, false},
		{"no path", models.URLRecord{URL: "http://a.example"}, 1.0, false},
		{"one segment", models.URLRecord{URL: "http://a.example/docs"}, 0.5, false},
		{"trailing slash ignored", models.URLRecord{URL: "http://a.example/docs/"}, 0.5, false},
		{"three segments", models.URLRecord{URL: "http://a.example/a/b/c.html?q=1"}, 0.25, false},
		{"payload override", models.URLRecord{URL: "http://a.example/a/b", Payload: map[string]string{"score": "7"}}, 7, false},
		{"payload skip", models.URLRecord{URL: "http://a.example/", Payload: map[string]string{"score": "0"}}, 0, true},
		{"bad payload ignored", models.URLRecord{URL: "http://a.example/a", Payload: map[string]string{"score": "high"}}, 0.5, false},
		{"unparseable URL", models.URLRecord{URL: "http://a b.example/%zz"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PathDepthScorer{}.Score(tt.rec)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.skipped, IsSkip(got))
		})
	}
}

func TestScorerFunc(t *testing.T) {
	s := ScorerFunc(func(rec models.URLRecord) float64 { return float64(len(rec.URL)) })

	assert.Equal(t, 18.0, s.Score(models.URLRecord{URL: "http://a.example/x"}))
}

func TestNew(t *testing.T) {
	s, err := New(&config.AppConfig{Scorer: config.ScorerFixed, FixedScore: 3})
	require.NoError(t, err)
	assert.Equal(t, FixedScorer(3), s)

	s, err = New(&config.AppConfig{Scorer: config.ScorerPathDepth})
	require.NoError(t, err)
	assert.IsType(t, PathDepthScorer{}, s)

	_, err = New(&config.AppConfig{Scorer: "random"})
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}
