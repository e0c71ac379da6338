package room

// Phase tracks the experiment lifecycle for the single public room.
type Phase int

const (
	// PhaseActive accepts chat lines and scores them.
	PhaseActive Phase = iota
	// PhaseSurveyPending rejects chat; participants rate each other.
	PhaseSurveyPending
	// PhaseSurveyComplete rejects chat; aggregate statistics are final.
	PhaseSurveyComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseSurveyPending:
		return "survey_pending"
	case PhaseSurveyComplete:
		return "survey_complete"
	default:
		return "unknown"
	}
}

// UnknownNumber is the sentinel display number for participants who never
// reported one before the experiment ended.
const UnknownNumber = "未知"

// State is the broadcastable slice of shared room state.
type State struct {
	Topic       string         `json:"topic_en"`
	ScenePrompt string         `json:"scene_system"`
	SceneFields map[string]any `json:"scene_fields"`
	Ended       bool           `json:"experiment_ended"`
	StartTime   int64          `json:"start_time,omitempty"`
	EndTime     int64          `json:"end_time,omitempty"`
}

// HistoryEntry is one accepted chat line, immutable once appended.
type HistoryEntry struct {
	Seq      int64  `json:"seq"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

// SurveyParticipant pairs a roster member with the display number frozen at
// experiment end, for the questionnaire UI.
type SurveyParticipant struct {
	UserID   string `json:"user_id"`
	Number   string `json:"number"`
	Nickname string `json:"nickname"`
}

// SurveyRecord holds one participant's validated ratings, keyed by the target
// participant's display number.
type SurveyRecord struct {
	UserID  string             `json:"user_id"`
	Answers map[string]float64 `json:"answers"`
}

// Stats is the aggregate broadcast once the questionnaire completes.
type Stats struct {
	TotalUsers         int                `json:"total_users"`
	TotalMessages      int                `json:"total_messages"`
	AgentResponses     int                `json:"agent_responses"`
	AgentTriggerRate   float64            `json:"agent_trigger_rate"`
	AverageWillingness float64            `json:"average_willingness"`
	AverageSubScores   map[string]float64 `json:"average_sub_scores"`
	ExperimentDuration string             `json:"experiment_duration,omitempty"`
}
