// Package willingness estimates interjection willingness with keyword
// heuristics. It backs the scoring sources whenever the model-based scorer is
// unavailable, so the room keeps producing decisions without credentials.
package willingness

import "strings"

// Source names shared with the model-backed scorers.
const (
	SourcePersona = "persona"
	SourceScene   = "scene"
	SourceTopic   = "topic"
)

// interventionCues 表示讨论遇阻、需要第三方介入的信号。
var interventionCues = []string{
	"怎么办", "卡住", "不知道", "纠结", "分歧", "吵", "争论", "矛盾", "压力", "焦虑",
	"帮帮", "求助", "confused", "stuck", "help", "disagree", "问题是", "做不完", "来不及",
}

// casualCues 表示寒暄或闲聊，此时插话意愿应该下降。
var casualCues = []string{
	"哈哈", "嗯嗯", "好的", "晚安", "早安", "再见", "ok", "好滴", "收到", "lol",
}

// proactiveStyles 表示用户偏好更主动的对话参与者。
var proactiveStyles = []string{"主动", "健谈", "直接", "外向", "热情", "direct", "proactive"}

// welcomingScene 表示场景欢迎 AI 参与；aversiveScene 表示排斥。
var welcomingScene = []string{"欢迎", "鼓励", "希望 ai", "希望AI", "偏好：高", "喜欢ai"}
var aversiveScene = []string{"排斥", "不希望", "反感", "谨慎插话", "偏好：低"}

// Persona estimates willingness from the speaker's persona and utterance.
func Persona(background, speakingStyle, utterance string) float64 {
	score := 0.30 + cueBoost(utterance)
	style := strings.ToLower(speakingStyle + " " + background)
	for _, cue := range proactiveStyles {
		if strings.Contains(style, strings.ToLower(cue)) {
			score += 0.10
			break
		}
	}
	return clamp01(score)
}

// Scene estimates willingness from the scene description alone. It ignores
// the utterance so the sub-score stays constant until the scene changes.
func Scene(scene string) float64 {
	score := 0.35
	normalized := strings.ToLower(scene)
	for _, cue := range welcomingScene {
		if strings.Contains(normalized, strings.ToLower(cue)) {
			score += 0.20
			break
		}
	}
	for _, cue := range aversiveScene {
		if strings.Contains(normalized, strings.ToLower(cue)) {
			score -= 0.25
			break
		}
	}
	return clamp01(score)
}

// Topic estimates willingness from topic overlap plus intervention cues.
func Topic(topic, utterance string) float64 {
	score := 0.25 + cueBoost(utterance)
	if overlaps(topic, utterance) {
		score += 0.20
	}
	return clamp01(score)
}

func cueBoost(utterance string) float64 {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return 0
	}

	var boost float64
	for _, cue := range interventionCues {
		if strings.Contains(normalized, strings.ToLower(cue)) {
			boost += 0.15
		}
	}
	if boost > 0.45 {
		boost = 0.45
	}
	for _, cue := range casualCues {
		if strings.Contains(normalized, strings.ToLower(cue)) {
			boost -= 0.10
			break
		}
	}
	return boost
}

func overlaps(topic, utterance string) bool {
	topic = strings.ToLower(strings.TrimSpace(topic))
	utterance = strings.ToLower(utterance)
	if topic == "" || utterance == "" {
		return false
	}
	for _, word := range strings.Fields(topic) {
		if len(word) >= 4 && strings.Contains(utterance, word) {
			return true
		}
	}
	// 中文话题没有空格分词，直接检查短语片段。
	runes := []rune(topic)
	for i := 0; i+2 <= len(runes); i++ {
		if strings.Contains(utterance, string(runes[i:i+2])) {
			return true
		}
	}
	return false
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
