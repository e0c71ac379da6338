package room

import (
	"fmt"
	"strings"
)

// sceneFieldOrder fixes the rendering order of structured scene fields so the
// derived prompt is stable across updates.
var sceneFieldOrder = []struct {
	key   string
	label string
}{
	{"time_of_day", "时间"},
	{"formality", "正式程度"},
	{"domain", "场景领域"},
	{"relationship", "参与者关系"},
	{"topic_sensitivity", "话题敏感度"},
	{"participants", "对话人数"},
	{"ai_preference", "用户对 AI 的偏好"},
	{"platform", "地点"},
}

// BuildScenePrompt renders structured scene fields into the scene prompt
// text. Empty fields are skipped; a free-form "extra" field is appended last.
func BuildScenePrompt(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}

	parts := make([]string, 0, len(sceneFieldOrder)+1)
	for _, f := range sceneFieldOrder {
		if v := normField(fields[f.key]); v != "" {
			parts = append(parts, f.label+"："+v)
		}
	}
	if extra := normField(fields["extra"]); extra != "" {
		parts = append(parts, "补充："+extra)
	}

	head := strings.TrimSpace(strings.Join(parts, "；"))
	if head != "" {
		head += "。"
	}
	return head
}

func normField(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
