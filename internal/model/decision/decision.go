package decision

import "github.com/qiyuanwang/roundtable/backend/internal/model/room"

// DefaultThreshold is the trigger cutoff applied when no override is
// configured. Strictly greater-than comparisons apply everywhere.
const DefaultThreshold = 0.60

// Strategy labels surfaced in agent payloads.
const (
	// StrategyDisabled marks evaluations that did not trigger an interjection
	// (below threshold, queue shed, or scorer failure).
	StrategyDisabled = "disabled"
	// StrategyFallback marks interjections produced by the safe fallback path
	// after a generator failure.
	StrategyFallback = "fallback"
)

// Job is the immutable input of one scoring request. It is snapshotted under
// the room lock at enqueue time; later room mutations must not leak into it.
type Job struct {
	Seq         int64
	UserID      string
	Profile     room.Profile
	Topic       string
	ScenePrompt string
	HistoryCtx  string
	Utterance   string
}

// Timing carries wall-clock diagnostics for one pipeline run.
type Timing struct {
	TotalMS    float64            `json:"ms_total"`
	SourceMS   map[string]float64 `json:"ms_sources,omitempty"`
	GenerateMS float64            `json:"ms_strategy,omitempty"`
	Triggered  bool               `json:"triggered_strategy"`
	Error      string             `json:"error,omitempty"`
}

// Result is the resolved outcome of one scoring job. Broadcast once, then
// retained (bounded) for the experiment statistics.
type Result struct {
	Type             string             `json:"type"`
	Seq              int64              `json:"-"`
	FinalWillingness float64            `json:"final_willingness"`
	Threshold        float64            `json:"threshold"`
	Topic            string             `json:"topic_en"`
	Strategy         string             `json:"strategy"`
	Text             string             `json:"text"`
	SubScores        map[string]float64 `json:"sub_scores"`
	Timing           Timing             `json:"debug_timing"`
	TS               int64              `json:"ts,omitempty"`
}

// Triggered reports whether the willingness cleared the threshold. Strict
// greater-than: a score exactly at the threshold does not trigger.
func (r Result) Triggered() bool {
	return r.FinalWillingness > r.Threshold
}

// SafeDefault is the zero-score outcome used when a job is shed or scoring
// fails outright. The chat flow still completes with it.
func SafeDefault(job Job, threshold float64, reason string) Result {
	return Result{
		Type:             "agent_utterance",
		Seq:              job.Seq,
		FinalWillingness: 0.0,
		Threshold:        threshold,
		Topic:            job.Topic,
		Strategy:         StrategyDisabled,
		Text:             "",
		SubScores:        map[string]float64{},
		Timing:           Timing{Error: reason},
	}
}
