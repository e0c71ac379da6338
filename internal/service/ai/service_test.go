package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/qiyuanwang/roundtable/backend/internal/model/room"
	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
)

func TestParseScore(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{"plain decimal", "0.37", 0.37, false},
		{"embedded in prose", "我的评估是 0.8 左右", 0.8, false},
		{"integer", "1", 1, false},
		{"clamped high", "3.5", 1, false},
		{"no number", "无法评估", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseScore(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseScore(%q) err: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("parseScore(%q): got %g want %g", tc.input, got, tc.want)
			}
		})
	}
}

func TestExtractJSONBlock(t *testing.T) {
	payload, err := extractJSONBlock("```json\n{\"strategy\":\"reframe\",\"insert\":\"先看最重要的一步\"}\n```")
	if err != nil {
		t.Fatalf("extractJSONBlock err: %v", err)
	}
	if payload.Strategy != "reframe" || payload.Insert != "先看最重要的一步" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	if _, err := extractJSONBlock("no json here"); err == nil {
		t.Fatal("expected error without a json object")
	}
	if _, err := extractJSONBlock("{broken"); err == nil {
		t.Fatal("expected error for an unterminated object")
	}
}

func TestBuildSceneTextAppendsQuestionOnce(t *testing.T) {
	in := decide.ScoreInput{Scene: "深夜宿舍聊天", Utterance: "这句话不该出现"}
	text := buildSceneText(in)
	if strings.Contains(text, in.Utterance) {
		t.Fatalf("scene text must exclude the utterance: %q", text)
	}
	if strings.Count(text, sceneWillingnessSuffix) != 1 {
		t.Fatalf("suffix count != 1: %q", text)
	}

	// Re-applying on already-suffixed text must not duplicate the question.
	again := buildSceneText(decide.ScoreInput{Scene: text})
	if strings.Count(again, sceneWillingnessSuffix) != 1 {
		t.Fatalf("suffix duplicated: %q", again)
	}

	if got := buildSceneText(decide.ScoreInput{}); got != "" {
		t.Fatalf("empty scene should produce empty input, got %q", got)
	}
}

func TestBuildPersonaAndTopicText(t *testing.T) {
	in := decide.ScoreInput{
		Profile:   room.Profile{Background: "学生", SpeakingStyle: "简短"},
		Topic:     "career stress",
		Utterance: "我很迷茫",
	}

	persona := buildPersonaText(in)
	if !strings.Contains(persona, "[PROFILE]") || !strings.Contains(persona, "[UTTERANCE] 我很迷茫") {
		t.Fatalf("persona text: %q", persona)
	}

	topic := buildTopicText(in)
	if !strings.Contains(topic, "[TOPIC_EN] career stress") || !strings.Contains(topic, "[UTTERANCE] 我很迷茫") {
		t.Fatalf("topic text: %q", topic)
	}

	if got := buildTopicText(decide.ScoreInput{}); got != "" {
		t.Fatalf("empty topic input should be empty, got %q", got)
	}
}

func TestFallbackScorersCoverAllSources(t *testing.T) {
	scorers := FallbackScorers()
	if len(scorers) != 3 {
		t.Fatalf("scorer count: got %d want 3", len(scorers))
	}

	in := decide.ScoreInput{
		Profile:   room.Profile{Background: "心理咨询师", SpeakingStyle: "热情主动"},
		Topic:     "career stress",
		Scene:     "朋友间的深夜求助",
		Utterance: "我压力大到睡不着，不知道怎么办",
	}
	for _, s := range scorers {
		val, err := s.Score(context.Background(), in)
		if err != nil {
			t.Fatalf("scorer %s err: %v", s.Name(), err)
		}
		if val < 0 || val > 1 {
			t.Fatalf("scorer %s out of range: %g", s.Name(), val)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("一二三四五", 3); got != "一二三" {
		t.Fatalf("truncateRunes: got %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("truncateRunes no-op: got %q", got)
	}
}
