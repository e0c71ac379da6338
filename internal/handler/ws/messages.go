package ws

import "strconv"

// Inbound frames are flat JSON with a type discriminator; each message kind
// decodes the full frame into its own struct.

type joinMessage struct {
	Nickname          string   `json:"nickname"`
	Intro             string   `json:"intro"`
	PersonalityTraits []string `json:"personality_traits"`
	SpeakingStyle     string   `json:"speaking_style"`
	Values            string   `json:"values"`
}

type topicMessage struct {
	Topic string `json:"topic"`
}

type scenePromptMessage struct {
	Prompt string `json:"prompt"`
}

type sceneFieldsMessage struct {
	Fields map[string]any `json:"fields"`
}

type personaMessage struct {
	Background        *string   `json:"background"`
	PersonalityTraits *[]string `json:"personality_traits"`
	SpeakingStyle     *string   `json:"speaking_style"`
	Values            *string   `json:"values"`
}

type userNumberMessage struct {
	UserNumber any    `json:"user_number"`
	UserID     string `json:"user_id"`
}

type agentNumberMessage struct {
	AgentNumber any   `json:"agent_number"`
	Seq         int64 `json:"seq"`
}

type endExperimentMessage struct {
	RoomID string `json:"room_id"`
}

type questionnaireMessage struct {
	Answers map[string]any `json:"answers"`
}

type chatLineMessage struct {
	Text       string `json:"text"`
	UserNumber any    `json:"user_number"`
}

// numberString normalizes display numbers, which clients send either as JSON
// numbers or strings.
func numberString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// ratingValue parses one questionnaire rating; clients send numbers, some
// send numeric strings.
func ratingValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		val, err := strconv.ParseFloat(t, 64)
		return val, err == nil
	default:
		return 0, false
	}
}
