package room_test

import (
	"testing"

	roomservice "github.com/qiyuanwang/roundtable/backend/internal/service/room"
)

func TestBuildScenePromptOrderAndExtra(t *testing.T) {
	fields := map[string]any{
		"platform":    "宿舍",
		"time_of_day": "深夜",
		"extra":       "期末周",
		"formality":   "非正式",
		"ignored":     "不在白名单里",
	}

	got := roomservice.BuildScenePrompt(fields)
	want := "时间：深夜；正式程度：非正式；地点：宿舍；补充：期末周。"
	if got != want {
		t.Fatalf("scene prompt:\n got %q\nwant %q", got, want)
	}
}

func TestBuildScenePromptEmpty(t *testing.T) {
	if got := roomservice.BuildScenePrompt(nil); got != "" {
		t.Fatalf("nil fields: got %q want empty", got)
	}
	if got := roomservice.BuildScenePrompt(map[string]any{"time_of_day": "  "}); got != "" {
		t.Fatalf("blank fields: got %q want empty", got)
	}
}

func TestBuildScenePromptNonStringValues(t *testing.T) {
	got := roomservice.BuildScenePrompt(map[string]any{"participants": 4})
	if got != "对话人数：4。" {
		t.Fatalf("numeric field: got %q", got)
	}
}

func TestSetSceneFieldsDerivesPrompt(t *testing.T) {
	svc := roomservice.NewService(roomservice.Config{})
	svc.SetSceneFields(map[string]any{"domain": "求职"})

	state := svc.State()
	if state.ScenePrompt != "场景领域：求职。" {
		t.Fatalf("derived prompt: got %q", state.ScenePrompt)
	}

	// Free text replaces the structured fields entirely.
	svc.SetScenePrompt("自由场景")
	state = svc.State()
	if state.ScenePrompt != "自由场景" {
		t.Fatalf("free prompt: got %q", state.ScenePrompt)
	}
	if len(state.SceneFields) != 0 {
		t.Fatalf("fields should be cleared, got %v", state.SceneFields)
	}
}
