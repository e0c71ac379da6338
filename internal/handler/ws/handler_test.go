package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/qiyuanwang/roundtable/backend/internal/handler/ws"
	"github.com/qiyuanwang/roundtable/backend/internal/model/decision"
	"github.com/qiyuanwang/roundtable/backend/internal/service/audit"
	"github.com/qiyuanwang/roundtable/backend/internal/service/decide"
	"github.com/qiyuanwang/roundtable/backend/internal/service/queue"
	roomservice "github.com/qiyuanwang/roundtable/backend/internal/service/room"
)

type fixedScorer struct {
	name string
	val  float64
}

func (s fixedScorer) Name() string { return s.name }

func (s fixedScorer) Score(context.Context, decide.ScoreInput) (float64, error) {
	return s.val, nil
}

type fixedGenerator struct{}

func (fixedGenerator) Generate(context.Context, decide.GenerateInput) (decide.Interjection, error) {
	return decide.Interjection{Strategy: "reframe", Text: "我们可以先把目标对齐一下再继续。"}, nil
}

// blockingDecider parks every decision until release closes, reporting each
// entry on started so tests can sequence queue saturation deterministically.
type blockingDecider struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDecider) Decide(_ context.Context, job decision.Job) decision.Result {
	d.started <- struct{}{}
	<-d.release
	return decision.Result{Seq: job.Seq, Threshold: decision.DefaultThreshold}
}

func newTestServer(t *testing.T, scorerVal float64) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	roomSvc := roomservice.NewService(roomservice.Config{})
	pipeline := decide.NewPipeline(
		[]decide.Scorer{fixedScorer{name: "persona", val: scorerVal}},
		fixedGenerator{},
		0,
	)
	q := queue.New(pipeline, 10, 0)
	q.Start(ctx)

	handler := ws.New(roomSvc, q, audit.NopSink{}, 0)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips unrelated broadcasts until a frame of the wanted type
// arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read waiting for %q: %v", msgType, err)
		}
		if frame["type"] == msgType {
			return frame
		}
	}
	t.Fatalf("no %q frame before deadline", msgType)
	return nil
}

func join(t *testing.T, conn *websocket.Conn, nickname string) string {
	t.Helper()

	if err := conn.WriteJSON(map[string]any{"type": "join", "nickname": nickname, "intro": "测试参与者"}); err != nil {
		t.Fatalf("write join err: %v", err)
	}
	ok := readUntil(t, conn, "join_ok")
	id, _ := ok["user_id"].(string)
	if id == "" {
		t.Fatalf("join_ok without user id: %v", ok)
	}
	return id
}

func TestConnectSendsStatusAndState(t *testing.T) {
	srv := newTestServer(t, 0.9)
	conn := dial(t, srv)

	status := readUntil(t, conn, "status")
	if status["connected"] != true {
		t.Fatalf("status frame: %v", status)
	}
	state := readUntil(t, conn, "state_update")
	if state["experiment_ended"] != false {
		t.Fatalf("fresh room should not be ended: %v", state)
	}
}

func TestJoinValidation(t *testing.T) {
	srv := newTestServer(t, 0.9)
	conn := dial(t, srv)

	if err := conn.WriteJSON(map[string]any{"type": "join", "nickname": "小明"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	fail := readUntil(t, conn, "join_fail")
	if msg, _ := fail["msg"].(string); !strings.Contains(msg, "必填") {
		t.Fatalf("join_fail message: %v", fail)
	}

	// The gate still holds after a failed join.
	if err := conn.WriteJSON(map[string]any{"type": "chat_line", "text": "hello"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	errFrame := readUntil(t, conn, "error")
	if msg, _ := errFrame["msg"].(string); !strings.Contains(msg, "join") {
		t.Fatalf("pre-join error message: %v", errFrame)
	}
}

func TestChatAckThenUpdateTriggered(t *testing.T) {
	srv := newTestServer(t, 0.9)
	alice := dial(t, srv)
	bob := dial(t, srv)

	join(t, alice, "alice")
	join(t, bob, "bob")

	if err := alice.WriteJSON(map[string]any{"type": "chat_line", "text": "我最近压力很大，不知道怎么办"}); err != nil {
		t.Fatalf("write chat err: %v", err)
	}

	ack := readUntil(t, alice, "chat_ack")
	if ack["status"] != "queued" {
		t.Fatalf("ack status: %v", ack)
	}
	seq, ok := ack["seq"].(float64)
	if !ok || seq <= 0 {
		t.Fatalf("ack seq: %v", ack)
	}

	update := readUntil(t, alice, "chat_update")
	if update["seq"].(float64) != seq {
		t.Fatalf("update seq mismatch: ack=%v update=%v", seq, update["seq"])
	}
	if update["status"] != "done" {
		t.Fatalf("update status: %v", update)
	}

	agent, ok := update["agent"].(map[string]any)
	if !ok {
		t.Fatalf("update missing agent payload: %v", update)
	}
	if agent["final_willingness"].(float64) <= agent["threshold"].(float64) {
		t.Fatalf("0.9 scorer must clear the threshold: %v", agent)
	}
	if text, _ := agent["text"].(string); text == "" {
		t.Fatalf("triggered decision must carry text: %v", agent)
	}

	// The other participant receives both broadcasts too.
	readUntil(t, bob, "chat_ack")
	bobUpdate := readUntil(t, bob, "chat_update")
	if bobUpdate["seq"].(float64) != seq {
		t.Fatalf("broadcast seq mismatch: %v", bobUpdate)
	}
}

func TestChatUpdateNotTriggeredAtThreshold(t *testing.T) {
	srv := newTestServer(t, 0.60)
	conn := dial(t, srv)
	join(t, conn, "alice")

	if err := conn.WriteJSON(map[string]any{"type": "chat_line", "text": "随便聊聊"}); err != nil {
		t.Fatalf("write chat err: %v", err)
	}

	update := readUntil(t, conn, "chat_update")
	agent := update["agent"].(map[string]any)
	if agent["strategy"] != "disabled" {
		t.Fatalf("score at threshold must not trigger: %v", agent)
	}
	if text, _ := agent["text"].(string); text != "" {
		t.Fatalf("untriggered update must not carry text: %v", agent)
	}
}

func TestQueueFullChatStillResolves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	decider := &blockingDecider{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	q := queue.New(decider, 1, 0)
	q.Start(ctx)

	roomSvc := roomservice.NewService(roomservice.Config{})
	handler := ws.New(roomSvc, q, audit.NopSink{}, 0)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	join(t, conn, "alice")

	// First line: the worker picks it up and parks inside the decider.
	if err := conn.WriteJSON(map[string]any{"type": "chat_line", "text": "第一句"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readUntil(t, conn, "chat_ack")
	select {
	case <-decider.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the first job")
	}

	// Second line fills the capacity-1 channel behind the parked worker.
	if err := conn.WriteJSON(map[string]any{"type": "chat_line", "text": "第二句"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readUntil(t, conn, "chat_ack")

	// Third line is shed, yet the chat flow must still complete.
	if err := conn.WriteJSON(map[string]any{"type": "chat_line", "text": "第三句"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	ack := readUntil(t, conn, "chat_ack")
	shedSeq := ack["seq"].(float64)

	update := readUntil(t, conn, "chat_update")
	if update["seq"].(float64) != shedSeq {
		t.Fatalf("first update should resolve the shed line: got seq %v want %v", update["seq"], shedSeq)
	}
	agent := update["agent"].(map[string]any)
	if agent["final_willingness"].(float64) != 0 {
		t.Fatalf("shed decision willingness: %v", agent)
	}
	if agent["strategy"] != "disabled" {
		t.Fatalf("shed decision strategy: %v", agent)
	}
	timing := agent["debug_timing"].(map[string]any)
	if timing["error"] != "queue_full" {
		t.Fatalf("shed decision should record the shed reason: %v", timing)
	}

	close(decider.release)
}

func TestEndExperimentAndQuestionnaireFlow(t *testing.T) {
	srv := newTestServer(t, 0.2)
	alice := dial(t, srv)
	bob := dial(t, srv)
	join(t, alice, "alice")
	join(t, bob, "bob")

	if err := alice.WriteJSON(map[string]any{"type": "end_experiment", "room_id": "room-1"}); err != nil {
		t.Fatalf("write end err: %v", err)
	}
	ended := readUntil(t, alice, "experiment_ended")
	if ended["questionnaire_started"] != true {
		t.Fatalf("experiment_ended frame: %v", ended)
	}
	participants, ok := ended["participants"].([]any)
	if !ok || len(participants) != 2 {
		t.Fatalf("frozen roster: %v", ended["participants"])
	}

	// Chat is rejected once ended.
	if err := alice.WriteJSON(map[string]any{"type": "chat_line", "text": "还在吗"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	errFrame := readUntil(t, alice, "error")
	if msg, _ := errFrame["msg"].(string); !strings.Contains(msg, "实验已结束") {
		t.Fatalf("post-end chat error: %v", errFrame)
	}

	// Repeating the end command is an explicit error.
	if err := alice.WriteJSON(map[string]any{"type": "end_experiment", "room_id": "room-1"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	errFrame = readUntil(t, alice, "error")
	if msg, _ := errFrame["msg"].(string); !strings.Contains(msg, "已经结束") {
		t.Fatalf("repeat end error: %v", errFrame)
	}

	// First submission reports progress, second completes.
	if err := alice.WriteJSON(map[string]any{"type": "submit_questionnaire", "answers": map[string]any{"1": 8}}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	progress := readUntil(t, alice, "questionnaire_progress")
	if progress["completed_count"].(float64) != 1 || progress["remaining_count"].(float64) != 1 {
		t.Fatalf("progress frame: %v", progress)
	}

	// A duplicate submission is rejected.
	if err := alice.WriteJSON(map[string]any{"type": "submit_questionnaire", "answers": map[string]any{"1": 5}}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	errFrame = readUntil(t, alice, "error")
	if msg, _ := errFrame["msg"].(string); !strings.Contains(msg, "已经提交") {
		t.Fatalf("duplicate submit error: %v", errFrame)
	}

	if err := bob.WriteJSON(map[string]any{"type": "submit_questionnaire", "answers": map[string]any{"1": "7"}}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	completed := readUntil(t, bob, "questionnaire_completed")
	if completed["room_id"] != "room-1" {
		t.Fatalf("completed frame: %v", completed)
	}
	if completed["stats"] == nil {
		t.Fatalf("completion must carry stats: %v", completed)
	}
}

func TestLateJoinerReceivesCatchUp(t *testing.T) {
	srv := newTestServer(t, 0.2)
	alice := dial(t, srv)
	join(t, alice, "alice")

	if err := alice.WriteJSON(map[string]any{"type": "end_experiment", "room_id": "room-9"}); err != nil {
		t.Fatalf("write end err: %v", err)
	}
	readUntil(t, alice, "experiment_ended")

	late := dial(t, srv)
	ended := readUntil(t, late, "experiment_ended")
	if ended["room_id"] != "room-9" || ended["questionnaire_started"] != true {
		t.Fatalf("catch-up frame: %v", ended)
	}
}

func TestTopicUpdateBroadcast(t *testing.T) {
	srv := newTestServer(t, 0.2)
	alice := dial(t, srv)
	bob := dial(t, srv)
	join(t, alice, "alice")
	join(t, bob, "bob")

	if err := alice.WriteJSON(map[string]any{"type": "topic", "topic": "career stress"}); err != nil {
		t.Fatalf("write topic err: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	_ = bob.SetReadDeadline(deadline)
	for {
		var frame map[string]any
		if err := bob.ReadJSON(&frame); err != nil {
			t.Fatalf("read err: %v", err)
		}
		if frame["type"] == "state_update" && frame["topic_en"] == "career stress" {
			return
		}
	}
}
