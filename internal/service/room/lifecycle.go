package room

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qiyuanwang/roundtable/backend/internal/model/room"
)

// EndSummary is the payload of a successful end transition: the end timestamp
// and the participant roster frozen for the questionnaire.
type EndSummary struct {
	RoomID       string
	EndTime      int64
	Participants []room.SurveyParticipant
}

// End transitions the room from the active conversation to the questionnaire
// phase. The room identifier is required; repeating the command while the
// experiment is already ended is an explicit error, not a no-op.
func (s *Service) End(roomID string) (EndSummary, error) {
	roomID = strings.TrimSpace(roomID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != room.PhaseActive {
		return EndSummary{}, ErrAlreadyEnded
	}
	if roomID == "" {
		return EndSummary{}, ErrRoomIDRequired
	}

	s.phase = room.PhaseSurveyPending
	s.roomID = roomID
	s.endTime = s.now().Unix()

	s.endRoster = make(map[string]room.SurveyParticipant, len(s.participants))
	for id, p := range s.participants {
		number := s.userNumbers[id]
		if number == "" {
			number = room.UnknownNumber
		}
		s.endRoster[id] = room.SurveyParticipant{
			UserID:   id,
			Number:   number,
			Nickname: p.Nickname,
		}
	}
	s.surveys = make(map[string]room.SurveyRecord)

	return EndSummary{
		RoomID:       roomID,
		EndTime:      s.endTime,
		Participants: s.surveyRosterLocked(),
	}, nil
}

// SurveyRoster lists the roster frozen at end time, stable by display number.
func (s *Service) SurveyRoster() []room.SurveyParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surveyRosterLocked()
}

func (s *Service) surveyRosterLocked() []room.SurveyParticipant {
	roster := make([]room.SurveyParticipant, 0, len(s.endRoster))
	for _, sp := range s.endRoster {
		roster = append(roster, sp)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].Number != roster[j].Number {
			return roster[i].Number < roster[j].Number
		}
		return roster[i].UserID < roster[j].UserID
	})
	return roster
}

// SurveyStatus reports questionnaire progress after a submission. When the
// submission completes the questionnaire, Stats and Answers are populated.
type SurveyStatus struct {
	Completed      bool
	CompletedCount int
	TotalCount     int
	RemainingCount int
	Stats          *room.Stats
	Answers        map[string]map[string]float64
}

// SubmitSurvey validates and stores one participant's ratings. Ratings must
// be in [1,10]; out-of-range entries are dropped. Duplicate submissions and
// submitters outside the end-time roster are rejected. Completion is reached
// exactly when every roster member has submitted once.
func (s *Service) SubmitSurvey(userID string, answers map[string]float64) (SurveyStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == room.PhaseActive {
		return SurveyStatus{}, ErrSurveyNotStarted
	}
	if _, ok := s.endRoster[userID]; !ok {
		return SurveyStatus{}, ErrSurveyNotEligible
	}
	if _, ok := s.surveys[userID]; ok {
		return SurveyStatus{}, ErrSurveyDuplicate
	}

	validated := make(map[string]float64, len(answers))
	for target, score := range answers {
		if score >= 1 && score <= 10 {
			validated[target] = score
		}
	}
	s.surveys[userID] = room.SurveyRecord{UserID: userID, Answers: validated}

	status := SurveyStatus{
		CompletedCount: len(s.surveys),
		TotalCount:     len(s.endRoster),
	}
	status.RemainingCount = status.TotalCount - status.CompletedCount

	if s.surveyCompleteLocked() {
		s.phase = room.PhaseSurveyComplete
		status.Completed = true
		stats := s.statsLocked()
		status.Stats = &stats
		status.Answers = s.surveyAnswersLocked()
	}
	return status, nil
}

func (s *Service) surveyCompleteLocked() bool {
	for id := range s.endRoster {
		if _, ok := s.surveys[id]; !ok {
			return false
		}
	}
	return len(s.endRoster) > 0
}

// SurveyAnswers returns all stored ratings keyed by submitter.
func (s *Service) SurveyAnswers() map[string]map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surveyAnswersLocked()
}

func (s *Service) surveyAnswersLocked() map[string]map[string]float64 {
	all := make(map[string]map[string]float64, len(s.surveys))
	for id, rec := range s.surveys {
		answers := make(map[string]float64, len(rec.Answers))
		for target, score := range rec.Answers {
			answers[target] = score
		}
		all[id] = answers
	}
	return all
}

// Stats aggregates the experiment outcome from the agent-response log.
func (s *Service) Stats() room.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Service) statsLocked() room.Stats {
	stats := room.Stats{
		TotalUsers:       len(s.participants),
		TotalMessages:    len(s.history),
		AverageSubScores: map[string]float64{},
	}
	if s.phase != room.PhaseActive {
		stats.TotalUsers = len(s.endRoster)
	}

	if s.endTime > 0 && s.startTime > 0 {
		minutes := float64(s.endTime-s.startTime) / 60.0
		stats.ExperimentDuration = fmt.Sprintf("%.1f分钟", minutes)
	}

	if len(s.agentLog) == 0 {
		return stats
	}

	var willingnessSum float64
	triggered := 0
	subSums := map[string]float64{}
	subCounts := map[string]int{}
	for _, r := range s.agentLog {
		willingnessSum += r.FinalWillingness
		if r.Triggered() {
			triggered++
		}
		for source, val := range r.SubScores {
			subSums[source] += val
			subCounts[source]++
		}
	}

	stats.AgentResponses = triggered
	stats.AgentTriggerRate = float64(triggered) / float64(len(s.agentLog))
	stats.AverageWillingness = willingnessSum / float64(len(s.agentLog))
	for source, sum := range subSums {
		stats.AverageSubScores[source] = sum / float64(subCounts[source])
	}
	return stats
}
