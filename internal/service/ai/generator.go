package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
)

// Generate asks the model for a strategy/insert pair. The decision pipeline
// owns sanitization and fallback substitution; this layer only extracts the
// structured payload.
func (s *Service) Generate(ctx context.Context, in decide.GenerateInput) (decide.Interjection, error) {
	input := map[string]any{
		"scene":     truncateRunes(in.Scene, 800),
		"history":   truncateRunes(in.History, 800),
		"profile":   truncateRunes(profileJSON(in.Profile), 1200),
		"topic":     in.Topic,
		"utterance": in.Utterance,
	}

	msg, err := s.genChain.Invoke(ctx, input)
	if err != nil {
		return decide.Interjection{}, fmt.Errorf("invoke generator: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return decide.Interjection{}, fmt.Errorf("generator returned empty output")
	}

	payload, err := extractJSONBlock(msg.Content)
	if err != nil {
		return decide.Interjection{}, fmt.Errorf("parse generator output: %w", err)
	}

	strategy := strings.TrimSpace(payload.Strategy)
	if strategy == "" {
		strategy = "unspecified"
	}
	return decide.Interjection{Strategy: strategy, Text: strings.TrimSpace(payload.Insert)}, nil
}

type generatorPayload struct {
	Strategy string `json:"strategy"`
	Insert   string `json:"insert"`
}

// extractJSONBlock pulls the JSON object out of the model output, tolerating
// markdown code fences and surrounding prose.
func extractJSONBlock(content string) (*generatorPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &generatorPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}
