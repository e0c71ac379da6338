package room

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qiyuanwang/roundtable/backend/internal/model/decision"
	"github.com/qiyuanwang/roundtable/backend/internal/model/room"
)

var (
	ErrJoinFieldsRequired = errors.New("nickname 和 intro 必填")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrExperimentEnded    = errors.New("实验已结束，无法继续发言")
	ErrAlreadyEnded       = errors.New("实验已经结束，请先重置实验")
	ErrRoomIDRequired     = errors.New("请提供房间ID")
	ErrSurveyNotStarted   = errors.New("问卷尚未开始")
	ErrSurveyDuplicate    = errors.New("你已经提交过问卷")
	ErrSurveyNotEligible  = errors.New("仅实验结束时在场的参与者可以提交问卷")
)

// Config bounds the in-memory retention of the room service.
type Config struct {
	// HistoryKeep caps the rolling message history.
	HistoryKeep int
	// HistoryContext is how many trailing lines feed the generator context.
	HistoryContext int
	// AgentLogKeep caps the agent-response log backing the statistics.
	AgentLogKeep int
}

func (c Config) withDefaults() Config {
	if c.HistoryKeep <= 0 {
		c.HistoryKeep = 100
	}
	if c.HistoryContext <= 0 {
		c.HistoryContext = 12
	}
	if c.AgentLogKeep <= 0 {
		c.AgentLogKeep = 1000
	}
	return c
}

// Service owns all shared state of the single public room: participants,
// topic/scene, lifecycle phase, message history and the agent-response log.
// Every mutation runs under one mutex; callers broadcast outside the lock.
type Service struct {
	mu  sync.Mutex
	cfg Config
	seq sequence
	now func() time.Time

	participants map[string]*room.Participant
	topic        string
	scenePrompt  string
	sceneFields  map[string]any

	phase     room.Phase
	roomID    string
	startTime int64
	endTime   int64

	history  []room.HistoryEntry
	agentLog []decision.Result

	userNumbers  map[string]string
	agentNumbers map[int64]string

	endRoster map[string]room.SurveyParticipant
	surveys   map[string]room.SurveyRecord
}

// NewService bootstraps an active room with empty state.
func NewService(cfg Config) *Service {
	s := &Service{
		cfg:          cfg.withDefaults(),
		now:          time.Now,
		participants: make(map[string]*room.Participant),
		sceneFields:  map[string]any{},
		phase:        room.PhaseActive,
		userNumbers:  make(map[string]string),
		agentNumbers: make(map[int64]string),
		surveys:      make(map[string]room.SurveyRecord),
	}
	s.startTime = s.now().Unix()
	return s
}

// Join registers a participant. Nickname and introduction are both required;
// a rejected join leaves the registry untouched.
func (s *Service) Join(nickname, intro string, traits []string, speakingStyle, values string) (room.Participant, error) {
	nickname = strings.TrimSpace(nickname)
	intro = strings.TrimSpace(intro)
	if nickname == "" || intro == "" {
		return room.Participant{}, ErrJoinFieldsRequired
	}

	p := &room.Participant{
		ID:       "u_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Nickname: nickname,
		Profile: room.Profile{
			Background:        intro,
			PersonalityTraits: append([]string(nil), traits...),
			SpeakingStyle:     speakingStyle,
			Values:            values,
		},
	}

	s.mu.Lock()
	s.participants[p.ID] = p
	s.mu.Unlock()
	return *p, nil
}

// ProfileUpdate carries optional persona fields; nil fields keep the current
// value, mirroring partial update payloads.
type ProfileUpdate struct {
	Background    *string
	Traits        *[]string
	SpeakingStyle *string
	Values        *string
}

// UpdateProfile merges the update into the participant's persona.
func (s *Service) UpdateProfile(id string, upd ProfileUpdate) (room.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return room.Participant{}, ErrUnknownParticipant
	}
	if upd.Background != nil {
		p.Profile.Background = *upd.Background
	}
	if upd.Traits != nil {
		p.Profile.PersonalityTraits = append([]string(nil), (*upd.Traits)...)
	}
	if upd.SpeakingStyle != nil {
		p.Profile.SpeakingStyle = *upd.SpeakingStyle
	}
	if upd.Values != nil {
		p.Profile.Values = *upd.Values
	}
	return *p, nil
}

// Leave removes the participant and reports what left, for the presence
// broadcast. Unknown ids are a no-op.
func (s *Service) Leave(id string) (room.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return room.Participant{}, false
	}
	delete(s.participants, id)
	return *p, true
}

// Participant returns a copy of the registered participant.
func (s *Service) Participant(id string) (room.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return room.Participant{}, false
	}
	return *p, true
}

// Online lists the current roster for presence payloads.
func (s *Service) Online() []room.UserRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	online := make([]room.UserRef, 0, len(s.participants))
	for _, p := range s.participants {
		online = append(online, p.Ref())
	}
	return online
}

// SetTopic replaces the shared topic text.
func (s *Service) SetTopic(text string) {
	s.mu.Lock()
	s.topic = text
	s.mu.Unlock()
}

// SetScenePrompt replaces the scene with free text and clears structured fields.
func (s *Service) SetScenePrompt(text string) {
	s.mu.Lock()
	s.scenePrompt = text
	s.sceneFields = map[string]any{}
	s.mu.Unlock()
}

// SetSceneFields replaces the structured scene fields and derives the prompt
// text from them.
func (s *Service) SetSceneFields(fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	s.mu.Lock()
	s.sceneFields = fields
	s.scenePrompt = BuildScenePrompt(fields)
	s.mu.Unlock()
}

// SetUserNumber records the display number the frontend assigned to a user.
func (s *Service) SetUserNumber(userID, number string) {
	if userID == "" || number == "" {
		return
	}
	s.mu.Lock()
	s.userNumbers[userID] = number
	s.mu.Unlock()
}

// SetAgentNumber records the agent display number correlated to a sequence id.
func (s *Service) SetAgentNumber(seq int64, number string) {
	if seq <= 0 || number == "" {
		return
	}
	s.mu.Lock()
	s.agentNumbers[seq] = number
	s.mu.Unlock()
}

// AgentNumber looks up the agent display number for a sequence id.
func (s *Service) AgentNumber(seq int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentNumbers[seq]
}

// State snapshots the broadcastable room state.
func (s *Service) State() room.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() room.State {
	return room.State{
		Topic:       s.topic,
		ScenePrompt: s.scenePrompt,
		SceneFields: s.sceneFields,
		Ended:       s.phase != room.PhaseActive,
		StartTime:   s.startTime,
		EndTime:     s.endTime,
	}
}

// Phase returns the current lifecycle phase.
func (s *Service) Phase() room.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RoomID returns the identifier supplied with the end command, empty while
// the experiment is still active.
func (s *Service) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Accepted is the atomic outcome of one accepted chat line: the sequenced
// history entry plus the scoring snapshot taken in the same critical section,
// so a later topic or scene mutation cannot leak into the in-flight job.
type Accepted struct {
	Entry       room.HistoryEntry
	Profile     room.Profile
	Topic       string
	ScenePrompt string
	HistoryCtx  string
	UserNumber  string
	QueueHint   int
}

// RecordMessage sequences and records a chat line. The optional userNumber
// updates the display-number map. Rejected while the experiment is ended.
func (s *Service) RecordMessage(userID, text, userNumber string) (Accepted, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != room.PhaseActive {
		return Accepted{}, ErrExperimentEnded
	}
	p, ok := s.participants[userID]
	if !ok {
		return Accepted{}, ErrUnknownParticipant
	}

	if userNumber != "" {
		s.userNumbers[userID] = userNumber
	}
	number := s.userNumbers[userID]
	if number == "" {
		number = room.UnknownNumber
	}

	entry := room.HistoryEntry{
		Seq:      s.seq.Next(),
		UserID:   userID,
		Nickname: p.Nickname,
		Text:     text,
		TS:       s.now().Unix(),
	}
	s.history = append(s.history, entry)
	if len(s.history) > s.cfg.HistoryKeep {
		s.history = s.history[len(s.history)-s.cfg.HistoryKeep:]
	}

	return Accepted{
		Entry:       entry,
		Profile:     cloneProfile(p.Profile),
		Topic:       s.topic,
		ScenePrompt: s.scenePrompt,
		HistoryCtx:  s.historyContextLocked(),
		UserNumber:  number,
	}, nil
}

// HistoryContext formats the trailing context window for the generator.
func (s *Service) HistoryContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyContextLocked()
}

func (s *Service) historyContextLocked() string {
	if len(s.history) == 0 {
		return ""
	}
	tail := s.history
	if len(tail) > s.cfg.HistoryContext {
		tail = tail[len(tail)-s.cfg.HistoryContext:]
	}

	var b strings.Builder
	b.WriteString("[HISTORY]")
	for _, it := range tail {
		b.WriteString("\n")
		nick := it.Nickname
		if nick == "" {
			nick = "anon"
		}
		b.WriteString(nick)
		b.WriteString(": ")
		b.WriteString(it.Text)
	}
	return b.String()
}

// History returns a copy of the retained message ring.
func (s *Service) History() []room.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]room.HistoryEntry(nil), s.history...)
}

// AppendAgentResult records a resolved decision for the statistics, dropping
// the oldest entries past the configured cap.
func (s *Service) AppendAgentResult(res decision.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agentLog = append(s.agentLog, res)
	if len(s.agentLog) > s.cfg.AgentLogKeep {
		s.agentLog = s.agentLog[len(s.agentLog)-s.cfg.AgentLogKeep:]
	}
}

func cloneProfile(p room.Profile) room.Profile {
	p.PersonalityTraits = append([]string(nil), p.PersonalityTraits...)
	return p
}
