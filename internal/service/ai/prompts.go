package ai

import (
	"encoding/json"
	"strings"

	"github.com/qiyuanwang/roundtable/backend/internal/model/room"
	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
)

const sceneWillingnessSuffix = "在上述场景中，AI 助手主动插话的“意愿”应该是多少？" +
	"请给出一个 0 到 1 之间的小数（例如 0.23），只输出数字即可。"

const scorerSystemPrompt = "你是一个插话意愿评估器。阅读给定的上下文，评估 AI 助手此刻主动插话的意愿。" +
	"只输出一个 0 到 1 之间的小数（例如 0.37），不得输出任何其他文本。"

const generatorSystemPrompt = `You are speaking because the system has already decided that intervening is necessary.

You are not a chatbot, assistant, or moderator.
You are a real participant in a multi-person conversation.

Your responsibility is NOT to be polite or emotionally supportive.
Your responsibility is to improve the quality of the discussion.

When you speak, you should aim to do at least one of the following:
- Clarify what the conversation is actually about
- Point out a hidden problem, assumption, or misalignment
- Reframe the situation at a higher, more useful level
- Propose a concrete direction or next step

Avoid generic empathy, reassurance, or vague encouragement.
Do not repeat or summarize what others have said.

Be concise, natural, and slightly opinionated.
Sound like a thoughtful human, not a system.

Output MUST be valid JSON only.`

const generatorUserPrompt = `Scene (system context):
{scene}

Recent conversation (for reference only):
{history}

Persona profile (JSON):
{profile}

Topic (English):
{topic}

Latest utterance:
{utterance}

Constraints:
- Return JSON only: {{"strategy":"...","insert":"..."}}
- "strategy": one short phrase describing the intent
- "insert": ONE Chinese sentence
- Do NOT quote, repeat, or paraphrase the user's utterance
- Do not ask questions
- Do not use '?' or '？'
- Keep insert concise (<= 25 Chinese characters preferred)

Return JSON only:
{{"strategy":"...","insert":"..."}}`

// buildPersonaText assembles the persona scoring input: the serialized
// profile plus the current utterance, no history.
func buildPersonaText(in decide.ScoreInput) string {
	profile := profileJSON(in.Profile)
	parts := make([]string, 0, 2)
	if profile != "" {
		parts = append(parts, "[PROFILE] "+profile)
	}
	if u := strings.TrimSpace(in.Utterance); u != "" {
		parts = append(parts, "[UTTERANCE] "+u)
	}
	return strings.Join(parts, "\n\n")
}

// buildSceneText assembles the scene scoring input. The fixed willingness
// question is appended exactly once; the utterance and history are excluded
// so the scene score only moves when the scene itself changes.
func buildSceneText(in decide.ScoreInput) string {
	scene := strings.TrimSpace(in.Scene)
	if scene == "" {
		return ""
	}
	if !strings.Contains(scene, sceneWillingnessSuffix) {
		scene += "\n\n" + sceneWillingnessSuffix
	}
	return scene
}

// buildTopicText assembles the topic scoring input: topic plus utterance.
func buildTopicText(in decide.ScoreInput) string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(in.Topic); t != "" {
		parts = append(parts, "[TOPIC_EN] "+t)
	}
	if u := strings.TrimSpace(in.Utterance); u != "" {
		parts = append(parts, "[UTTERANCE] "+u)
	}
	return strings.Join(parts, "\n\n")
}

func profileJSON(p room.Profile) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// truncateRunes bounds prompt sections the way the original caps its inputs.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
