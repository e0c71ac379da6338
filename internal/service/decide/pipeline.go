// Package decide turns a scoring job into a decision: it consults the
// willingness scorers, applies the trigger threshold, and conditionally asks
// the generator for an interjection. Collaborator failures never escape;
// they degrade into safe results.
package decide

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qiyuanwang/roundtable/backend/internal/model/decision"
	"github.com/qiyuanwang/roundtable/backend/internal/model/room"
)

// ScoreInput is the snapshot a scorer sees. Conversation history is
// deliberately absent: scores must be reproducible from current state alone.
type ScoreInput struct {
	Profile   room.Profile
	Topic     string
	Scene     string
	Utterance string
}

// Scorer produces a willingness value in [0,1] from the snapshot.
type Scorer interface {
	Name() string
	Score(ctx context.Context, in ScoreInput) (float64, error)
}

// GenerateInput extends the snapshot with the recent-history context the
// generator needs to avoid echoing the triggering utterance.
type GenerateInput struct {
	Profile   room.Profile
	Topic     string
	Scene     string
	Utterance string
	History   string
}

// Interjection is a generated contribution with its strategy label.
type Interjection struct {
	Strategy string
	Text     string
}

// Generator produces interjection text once a decision triggered. It may
// fail; failure degrades the text, never the decision.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (Interjection, error)
}

// Pipeline orchestrates scoring, thresholding, generation and sanitization.
// With multiple scorers the final willingness is their equal-weight average.
type Pipeline struct {
	scorers   []Scorer
	generator Generator
	threshold float64
}

// NewPipeline wires the collaborators. threshold <= 0 falls back to the
// default cutoff.
func NewPipeline(scorers []Scorer, generator Generator, threshold float64) *Pipeline {
	if threshold <= 0 {
		threshold = decision.DefaultThreshold
	}
	return &Pipeline{scorers: scorers, generator: generator, threshold: threshold}
}

// Threshold returns the configured trigger cutoff.
func (p *Pipeline) Threshold() float64 {
	return p.threshold
}

// Decide resolves one job. It always returns a usable result: scorer failure
// yields the zero-score safe default, generator failure the fallback text.
func (p *Pipeline) Decide(ctx context.Context, job decision.Job) decision.Result {
	start := time.Now()

	if len(p.scorers) == 0 {
		return decision.SafeDefault(job, p.threshold, "no scorers configured")
	}

	in := ScoreInput{
		Profile:   job.Profile,
		Topic:     job.Topic,
		Scene:     job.ScenePrompt,
		Utterance: job.Utterance,
	}

	subScores := make(map[string]float64, len(p.scorers))
	sourceMS := make(map[string]float64, len(p.scorers))
	var sum float64
	for _, scorer := range p.scorers {
		t0 := time.Now()
		val, err := scorer.Score(ctx, in)
		sourceMS[scorer.Name()] = msSince(t0)
		if err != nil {
			log.Printf("[pipeline] scorer %s failed seq=%d: %v", scorer.Name(), job.Seq, err)
			res := decision.SafeDefault(job, p.threshold, fmt.Sprintf("scorer %s: %v", scorer.Name(), err))
			res.Timing.TotalMS = msSince(start)
			return res
		}
		val = clamp01(val)
		subScores[scorer.Name()] = val
		sum += val
	}
	final := sum / float64(len(p.scorers))

	res := decision.Result{
		Type:             "agent_utterance",
		Seq:              job.Seq,
		FinalWillingness: final,
		Threshold:        p.threshold,
		Topic:            job.Topic,
		Strategy:         decision.StrategyDisabled,
		SubScores:        subScores,
		Timing: decision.Timing{
			SourceMS: sourceMS,
		},
	}

	if final > p.threshold {
		res.Strategy, res.Text, res.Timing.GenerateMS = p.generate(ctx, job)
		res.Timing.Triggered = true
	}

	res.Timing.TotalMS = msSince(start)
	return res
}

func (p *Pipeline) generate(ctx context.Context, job decision.Job) (strategy, text string, elapsedMS float64) {
	t0 := time.Now()
	defer func() { elapsedMS = msSince(t0) }()

	if p.generator == nil {
		return decision.StrategyFallback, GeneratorFallback, 0
	}

	out, err := p.generator.Generate(ctx, GenerateInput{
		Profile:   job.Profile,
		Topic:     job.Topic,
		Scene:     job.ScenePrompt,
		Utterance: job.Utterance,
		History:   job.HistoryCtx,
	})
	if err != nil {
		log.Printf("[pipeline] generator failed seq=%d: %v", job.Seq, err)
		return decision.StrategyFallback, GeneratorFallback, 0
	}

	strategy = out.Strategy
	if strategy == "" {
		strategy = "unspecified"
	}
	text = Sanitize(out.Text, job.Utterance)
	if text == "" {
		text = SanitizeFallback
	}
	return strategy, text, 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
