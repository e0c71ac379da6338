// Package ws carries the room protocol over a single WebSocket endpoint:
// join gating, shared-state updates, the acknowledge-then-resolve chat flow,
// and the questionnaire sub-protocol after the experiment ends.
package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/qiyuanwang/roundtable/backend/internal/model/decision"
	roommodel "github.com/qiyuanwang/roundtable/backend/internal/model/room"
	"github.com/qiyuanwang/roundtable/backend/internal/service/audit"
	"github.com/qiyuanwang/roundtable/backend/internal/service/queue"
	roomservice "github.com/qiyuanwang/roundtable/backend/internal/service/room"
)

// Handler owns the WebSocket endpoint and the broadcast bus.
type Handler struct {
	room      *roomservice.Service
	queue     *queue.Queue
	bus       *Bus
	audit     audit.Sink
	threshold float64
	upgrader  websocket.Upgrader
}

// New wires the handler. threshold is needed to synthesize safe default
// decisions when the queue sheds a job.
func New(roomSvc *roomservice.Service, q *queue.Queue, sink audit.Sink, threshold float64) *Handler {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if threshold <= 0 {
		threshold = decision.DefaultThreshold
	}
	return &Handler{
		room:      roomSvc,
		queue:     q,
		bus:       NewBus(),
		audit:     sink,
		threshold: threshold,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWS)
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	h.bus.add(c)
	log.Printf("[ws] client connected: %s", conn.RemoteAddr())

	h.bus.SendTo(c, map[string]any{"type": "status", "connected": true})
	h.bus.SendTo(c, h.statePayload())
	h.sendCatchUp(c)

	var userID string
	defer func() {
		h.bus.remove(c)
		if userID != "" {
			h.announceLeave(userID)
		}
		log.Printf("[ws] client disconnected: %s", conn.RemoteAddr())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			h.sendError(c, "invalid json")
			continue
		}

		h.dispatch(c, &userID, head.Type, data)
	}
}

// sendCatchUp brings a late joiner up to whichever lifecycle state the room
// currently holds, without replaying full history.
func (h *Handler) sendCatchUp(c *client) {
	switch h.room.Phase() {
	case roommodel.PhaseSurveyPending:
		st := h.room.State()
		h.bus.SendTo(c, map[string]any{
			"type":                  "experiment_ended",
			"end_time":              st.EndTime,
			"room_id":               h.room.RoomID(),
			"questionnaire_started": true,
			"participants":          h.room.SurveyRoster(),
			"stats":                 nil,
		})
	case roommodel.PhaseSurveyComplete:
		st := h.room.State()
		h.bus.SendTo(c, map[string]any{
			"type":     "experiment_ended",
			"end_time": st.EndTime,
			"room_id":  h.room.RoomID(),
			"stats":    h.room.Stats(),
		})
	}
}

func (h *Handler) dispatch(c *client, userID *string, msgType string, data []byte) {
	if msgType == "join" {
		h.handleJoin(c, userID, data)
		return
	}

	if *userID == "" {
		h.sendError(c, "请先 join（nickname+intro）")
		return
	}

	switch msgType {
	case "topic":
		h.handleTopic(data)
	case "scene_prompt":
		h.handleScenePrompt(data)
	case "scene_fields":
		h.handleSceneFields(data)
	case "persona_profile":
		h.handlePersonaProfile(c, *userID, data)
	case "user_number":
		h.handleUserNumber(data)
	case "agent_number":
		h.handleAgentNumber(data)
	case "end_experiment":
		h.handleEndExperiment(c, data)
	case "submit_questionnaire":
		h.handleQuestionnaire(c, *userID, data)
	case "chat_line":
		h.handleChatLine(c, *userID, data)
	default:
		var echo map[string]any
		_ = json.Unmarshal(data, &echo)
		h.bus.SendTo(c, map[string]any{"type": "debug", "received": echo})
	}
}

func (h *Handler) handleJoin(c *client, userID *string, data []byte) {
	var msg joinMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid json")
		return
	}

	p, err := h.room.Join(msg.Nickname, msg.Intro, msg.PersonalityTraits, msg.SpeakingStyle, msg.Values)
	if err != nil {
		h.bus.SendTo(c, map[string]any{"type": "join_fail", "msg": err.Error()})
		return
	}

	// One participant per connection: a re-join replaces the old identity.
	if *userID != "" {
		h.announceLeave(*userID)
	}
	*userID = p.ID
	log.Printf("[ws] join ok uid=%s nickname=%s", p.ID, p.Nickname)

	h.bus.SendTo(c, map[string]any{"type": "join_ok", "user_id": p.ID, "nickname": p.Nickname})
	h.bus.Publish(map[string]any{
		"type":   "presence",
		"event":  "join",
		"user":   p.Ref(),
		"online": h.room.Online(),
		"ts":     time.Now().Unix(),
	})
}

func (h *Handler) announceLeave(userID string) {
	p, ok := h.room.Leave(userID)
	if !ok {
		return
	}
	log.Printf("[ws] leave uid=%s nickname=%s", p.ID, p.Nickname)
	h.bus.Publish(map[string]any{
		"type":   "presence",
		"event":  "leave",
		"user":   p.Ref(),
		"online": h.room.Online(),
		"ts":     time.Now().Unix(),
	})
}

func (h *Handler) handleTopic(data []byte) {
	var msg topicMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	h.room.SetTopic(msg.Topic)
	h.bus.Publish(h.statePayload())
}

func (h *Handler) handleScenePrompt(data []byte) {
	var msg scenePromptMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	h.room.SetScenePrompt(msg.Prompt)
	h.bus.Publish(h.statePayload())
}

func (h *Handler) handleSceneFields(data []byte) {
	var msg sceneFieldsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	h.room.SetSceneFields(msg.Fields)
	h.bus.Publish(h.statePayload())
}

func (h *Handler) handlePersonaProfile(c *client, userID string, data []byte) {
	var msg personaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid json")
		return
	}

	p, err := h.room.UpdateProfile(userID, roomservice.ProfileUpdate{
		Background:    msg.Background,
		Traits:        msg.PersonalityTraits,
		SpeakingStyle: msg.SpeakingStyle,
		Values:        msg.Values,
	})
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.bus.Publish(map[string]any{
		"type":  "presence",
		"event": "persona_updated",
		"user":  p.Ref(),
		"ts":    time.Now().Unix(),
	})
}

func (h *Handler) handleUserNumber(data []byte) {
	var msg userNumberMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if number := numberString(msg.UserNumber); number != "" && msg.UserID != "" {
		h.room.SetUserNumber(msg.UserID, number)
		log.Printf("[ws] user number recorded: user_id=%s number=%s", msg.UserID, number)
	}
}

func (h *Handler) handleAgentNumber(data []byte) {
	var msg agentNumberMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	number := numberString(msg.AgentNumber)
	if number == "" || msg.Seq <= 0 {
		return
	}
	h.room.SetAgentNumber(msg.Seq, number)
	h.audit.Append(audit.AgentNumberRow(msg.Seq, number))
	log.Printf("[ws] agent number recorded: seq=%d number=%s", msg.Seq, number)
}

func (h *Handler) handleEndExperiment(c *client, data []byte) {
	var msg endExperimentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid json")
		return
	}

	summary, err := h.room.End(msg.RoomID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.audit.Open(summary.RoomID)
	h.audit.Append(audit.ExperimentEndRow(summary.RoomID))
	log.Printf("[ws] experiment ended room=%s participants=%d", summary.RoomID, len(summary.Participants))

	h.bus.Publish(map[string]any{
		"type":                  "experiment_ended",
		"end_time":              summary.EndTime,
		"questionnaire_started": true,
		"participants":          summary.Participants,
		"stats":                 nil,
	})
}

func (h *Handler) handleQuestionnaire(c *client, userID string, data []byte) {
	var msg questionnaireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid json")
		return
	}

	answers := make(map[string]float64, len(msg.Answers))
	for target, raw := range msg.Answers {
		if val, ok := ratingValue(raw); ok {
			answers[target] = val
		}
	}

	status, err := h.room.SubmitSurvey(userID, answers)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	log.Printf("[ws] questionnaire submitted uid=%s progress=%d/%d", userID, status.CompletedCount, status.TotalCount)

	if !status.Completed {
		h.bus.Publish(map[string]any{
			"type":            "questionnaire_progress",
			"completed_count": status.CompletedCount,
			"total_count":     status.TotalCount,
			"remaining_count": status.RemainingCount,
		})
		h.bus.SendTo(c, map[string]any{
			"type":            "questionnaire_submitted",
			"remaining_count": status.RemainingCount,
		})
		return
	}

	h.auditQuestionnaire(status.Answers)
	h.bus.Publish(map[string]any{
		"type":                  "questionnaire_completed",
		"room_id":               h.room.RoomID(),
		"stats":                 status.Stats,
		"questionnaire_answers": status.Answers,
	})
}

func (h *Handler) auditQuestionnaire(answers map[string]map[string]float64) {
	numbers := make(map[string]string)
	for _, sp := range h.room.SurveyRoster() {
		numbers[sp.UserID] = sp.Number
	}
	for userID, ratings := range answers {
		for target, rating := range ratings {
			h.audit.Append(audit.QuestionnaireRow(userID, numbers[userID], target, rating))
		}
	}
}

func (h *Handler) handleChatLine(c *client, userID string, data []byte) {
	var msg chatLineMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid json")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	acc, err := h.room.RecordMessage(userID, text, numberString(msg.UserNumber))
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	seq := acc.Entry.Seq
	log.Printf("[ws] chat seq=%d from=%s: %s", seq, acc.Entry.Nickname, text)

	// Phase one: immediate acknowledgment so the line shows up as queued.
	h.bus.Publish(map[string]any{
		"type":       "chat_ack",
		"seq":        seq,
		"user":       roommodel.UserRef{ID: userID, Nickname: acc.Entry.Nickname},
		"text":       text,
		"ts":         acc.Entry.TS,
		"status":     "queued",
		"queue_size": h.queue.Depth(),
	})

	job := decision.Job{
		Seq:         seq,
		UserID:      userID,
		Profile:     acc.Profile,
		Topic:       acc.Topic,
		ScenePrompt: acc.ScenePrompt,
		HistoryCtx:  acc.HistoryCtx,
		Utterance:   text,
	}

	handle, err := h.queue.Submit(job)
	if err != nil && !errors.Is(err, queue.ErrQueueFull) {
		h.sendError(c, err.Error())
		return
	}

	// Phase two resolves off the read loop; a disconnect does not cancel it.
	go h.resolveChat(job, handle, acc)
}

func (h *Handler) resolveChat(job decision.Job, handle *queue.Handle, acc roomservice.Accepted) {
	var res decision.Result
	if handle == nil {
		res = decision.SafeDefault(job, h.threshold, "queue_full")
	} else {
		res = handle.Wait()
	}
	res.TS = time.Now().Unix()
	log.Printf("[ws] done seq=%d final=%.4f triggered=%v", job.Seq, res.FinalWillingness, res.Triggered())

	h.room.AppendAgentResult(res)
	h.audit.Append(audit.MessageRow(job.Seq, acc.UserNumber, job.UserID, job.Utterance, res))

	h.bus.Publish(map[string]any{
		"type":   "chat_update",
		"seq":    job.Seq,
		"agent":  res,
		"status": "done",
		"ts":     res.TS,
	})

	if res.Triggered() && res.Text != "" {
		h.audit.Append(audit.AgentRow(job.Seq, h.room.AgentNumber(job.Seq), res))
	}
}

func (h *Handler) statePayload() map[string]any {
	st := h.room.State()
	return map[string]any{
		"type":             "state_update",
		"topic_en":         st.Topic,
		"scene_system":     st.ScenePrompt,
		"scene_fields":     st.SceneFields,
		"experiment_ended": st.Ended,
	}
}

func (h *Handler) sendError(c *client, msg string) {
	h.bus.SendTo(c, map[string]any{"type": "error", "msg": msg})
}
