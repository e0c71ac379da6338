// Package ai implements the scoring and generation collaborators on top of
// an Ark chat model composed with eino chains. When credentials are absent
// the heuristic fallback scorers keep the room operational.
package ai

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/qiyuanwang/roundtable/backend/internal/analysis/willingness"
	"github.com/qiyuanwang/roundtable/backend/internal/config"
	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
)

// Service bundles the model-backed willingness scorers and the interjection
// generator over one shared chat model instance.
type Service struct {
	scoreChain compose.Runnable[map[string]any, *schema.Message]
	genChain   compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the scoring and generation chains.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	scorePrompt := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(scorerSystemPrompt),
		schema.UserMessage("{input}"),
	)
	scoreChain := compose.NewChain[map[string]any, *schema.Message]()
	scoreChain.AppendChatTemplate(scorePrompt)
	scoreChain.AppendChatModel(chatModel)
	scoreRunnable, err := scoreChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile scorer chain: %w", err)
	}

	genPrompt := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(generatorSystemPrompt),
		schema.UserMessage(generatorUserPrompt),
	)
	genChain := compose.NewChain[map[string]any, *schema.Message]()
	genChain.AppendChatTemplate(genPrompt)
	genChain.AppendChatModel(chatModel)
	genRunnable, err := genChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile generator chain: %w", err)
	}

	return &Service{scoreChain: scoreRunnable, genChain: genRunnable}, nil
}

// Scorers returns the persona/scene/topic scoring sources backed by the model.
func (s *Service) Scorers() []decide.Scorer {
	return []decide.Scorer{
		&modelScorer{name: willingness.SourcePersona, svc: s, build: buildPersonaText},
		&modelScorer{name: willingness.SourceScene, svc: s, build: buildSceneText},
		&modelScorer{name: willingness.SourceTopic, svc: s, build: buildTopicText},
	}
}

type modelScorer struct {
	name  string
	svc   *Service
	build func(decide.ScoreInput) string
}

func (m *modelScorer) Name() string { return m.name }

// Score runs one willingness source. An empty input scores 0 without a model
// round trip.
func (m *modelScorer) Score(ctx context.Context, in decide.ScoreInput) (float64, error) {
	text := strings.TrimSpace(m.build(in))
	if text == "" {
		return 0, nil
	}

	msg, err := m.svc.scoreChain.Invoke(ctx, map[string]any{"input": text})
	if err != nil {
		return 0, fmt.Errorf("invoke %s scorer: %w", m.name, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return 0, fmt.Errorf("%s scorer returned empty output", m.name)
	}

	val, err := parseScore(msg.Content)
	if err != nil {
		return 0, fmt.Errorf("parse %s score: %w", m.name, err)
	}
	return val, nil
}

var numberPattern = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// parseScore extracts the first numeric token of the model output and clamps
// it into [0,1].
func parseScore(content string) (float64, error) {
	match := numberPattern.FindString(content)
	if match == "" {
		return 0, fmt.Errorf("no number in %q", strings.TrimSpace(content))
	}
	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, err
	}
	if val < 0 {
		val = 0
	}
	if val > 1 {
		val = 1
	}
	return val, nil
}

// FallbackScorers returns the heuristic persona/scene/topic sources used when
// no chat model is configured.
func FallbackScorers() []decide.Scorer {
	return []decide.Scorer{
		heuristicScorer{name: willingness.SourcePersona, score: func(in decide.ScoreInput) float64 {
			return willingness.Persona(in.Profile.Background, in.Profile.SpeakingStyle, in.Utterance)
		}},
		heuristicScorer{name: willingness.SourceScene, score: func(in decide.ScoreInput) float64 {
			return willingness.Scene(in.Scene)
		}},
		heuristicScorer{name: willingness.SourceTopic, score: func(in decide.ScoreInput) float64 {
			return willingness.Topic(in.Topic, in.Utterance)
		}},
	}
}

type heuristicScorer struct {
	name  string
	score func(decide.ScoreInput) float64
}

func (h heuristicScorer) Name() string { return h.name }

func (h heuristicScorer) Score(_ context.Context, in decide.ScoreInput) (float64, error) {
	return h.score(in), nil
}
