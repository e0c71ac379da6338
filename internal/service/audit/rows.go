package audit

import (
	"fmt"
	"time"

	"github.com/qiyuanwang/roundtable/backend/internal/analysis/willingness"
	"github.com/qiyuanwang/roundtable/backend/internal/model/decision"
)

func timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func score(res decision.Result, source string) string {
	if val, ok := res.SubScores[source]; ok {
		return fmt.Sprintf("%.4f", val)
	}
	return ""
}

// MessageRow records an accepted chat line together with its decision scores.
func MessageRow(seq int64, userNumber, userID, text string, res decision.Result) Row {
	triggered := "否"
	strategy, agentText := "", ""
	if res.Triggered() {
		triggered = "是"
		strategy = res.Strategy
		agentText = res.Text
	}
	return Row{
		timestamp(),
		fmt.Sprintf("%d", seq),
		"用户",
		userNumber,
		userID,
		text,
		fmt.Sprintf("%.4f", res.FinalWillingness),
		score(res, willingness.SourcePersona),
		score(res, willingness.SourceScene),
		score(res, willingness.SourceTopic),
		triggered,
		strategy,
		agentText,
		"",
	}
}

// AgentRow records a triggered interjection as its own line.
func AgentRow(seq int64, agentNumber string, res decision.Result) Row {
	return Row{
		timestamp(),
		fmt.Sprintf("%d-agent", seq),
		"Agent",
		agentNumber,
		"agent",
		res.Text,
		fmt.Sprintf("%.4f", res.FinalWillingness),
		score(res, willingness.SourcePersona),
		score(res, willingness.SourceScene),
		score(res, willingness.SourceTopic),
		"是",
		res.Strategy,
		res.Text,
		agentNumber,
	}
}

// AgentNumberRow records a late-arriving agent display number keyed by seq.
func AgentNumberRow(seq int64, number string) Row {
	return Row{
		timestamp(),
		fmt.Sprintf("%d-agent-number", seq),
		"Agent编号",
		number,
		"agent",
		fmt.Sprintf("Agent编号: %s (对应消息seq: %d)", number, seq),
		"", "", "", "", "", "", "",
		number,
	}
}

// ExperimentEndRow records the end-of-conversation transition.
func ExperimentEndRow(roomID string) Row {
	return Row{
		timestamp(),
		"EXPERIMENT_END",
		"实验结束",
		"",
		"system",
		fmt.Sprintf("实验已结束 (房间ID: %s)", roomID),
	}
}

// QuestionnaireRow records one rating from a submitted questionnaire.
func QuestionnaireRow(userID, userNumber, targetNumber string, rating float64) Row {
	return Row{
		timestamp(),
		fmt.Sprintf("QUESTIONNAIRE-%s", userID),
		"问卷答案",
		userNumber,
		userID,
		fmt.Sprintf("对编号#%s的Agent评分: %g/10", targetNumber, rating),
	}
}
