package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("fix login", "the login form 500s")

	assert.Equal(t, StatusPlanned, task.Status)
	assert.Equal(t, ModeNone, task.SessionMode)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())
	assert.Nil(t, task.StartedAt)
}

func TestTask_ShortIDAndDisplayID(t *testing.T) {
	task := &Task{ID: "a1b2c3d4-e5f6-7890-abcd-ef0123456789"}

	assert.Equal(t, "a1b2c3d4", task.ShortID())
	assert.Equal(t, "789", task.IDSuffix())
	assert.Equal(t, "A1B2-789", task.DisplayID())

	task.Abbreviation = "AUTH"
	assert.Equal(t, "AUTH-789", task.DisplayID())
}

func TestTask_BoardTitleAndPrompt(t *testing.T) {
	task := NewTask("the login thing is broken somehow??", "")
	assert.Equal(t, "the login thing is broken somehow??", task.BoardTitle())
	assert.Equal(t, "the login thing is broken somehow??", task.Prompt())

	task.ShortTitle = "Fix login"
	task.Spec = "Repair the login flow."
	assert.Equal(t, "Fix login", task.BoardTitle())
	assert.Equal(t, "Repair the login flow.", task.Prompt())
}

func TestStatus_ColumnIndex(t *testing.T) {
	assert.Equal(t, 0, StatusPlanned.ColumnIndex())
	assert.Equal(t, 5, StatusReview.ColumnIndex())
	assert.Equal(t, 5, StatusApplying.ColumnIndex(), "transient statuses render in the review column")
	assert.Equal(t, 5, StatusMerging.ColumnIndex())
	assert.Equal(t, 6, StatusDone.ColumnIndex())
	assert.Equal(t, -1, StatusDiscarded.ColumnIndex())
}

func TestTransition_HappyPath(t *testing.T) {
	task := NewTask("fix login", "")

	require.NoError(t, task.Transition(StatusInProgress))
	require.NotNil(t, task.StartedAt)
	started := *task.StartedAt

	require.NoError(t, task.Transition(StatusTesting))
	require.NoError(t, task.Transition(StatusInProgress))
	assert.Equal(t, started, *task.StartedAt, "started timestamp stamps once")

	require.NoError(t, task.Transition(StatusTesting))
	require.NoError(t, task.Transition(StatusReview))
	require.NotNil(t, task.ReviewStartedAt)

	require.NoError(t, task.Transition(StatusMerging))
	require.NoError(t, task.Transition(StatusDone))
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.Status.Terminal())
}

func TestTransition_Invalid(t *testing.T) {
	task := NewTask("fix login", "")

	err := task.Transition(StatusReview)
	require.Error(t, err)

	require.NoError(t, task.Transition(StatusInProgress))
	require.Error(t, task.Transition(StatusDone), "in-progress work cannot jump straight to done")
}

func TestTransition_ResetClearsArtifacts(t *testing.T) {
	task := NewTask("fix login", "")
	require.NoError(t, task.Transition(StatusInProgress))
	task.Materialize("/proj/worktrees/task-abc", "claude/abc", "task-abc", ModeSdkManaged)
	task.SessionID = "sess-1"
	task.QAAttempts = 2

	require.NoError(t, task.Transition(StatusPlanned))

	assert.Empty(t, task.WorktreePath)
	assert.Empty(t, task.Branch)
	assert.Empty(t, task.TmuxWindow)
	assert.Empty(t, task.SessionID)
	assert.Equal(t, ModeNone, task.SessionMode)
	assert.Zero(t, task.QAAttempts)
	assert.Nil(t, task.StartedAt)
}

func TestTransition_ResetRefusedForTerminal(t *testing.T) {
	task := NewTask("fix login", "")
	require.NoError(t, task.Transition(StatusInProgress))
	require.NoError(t, task.Transition(StatusReview))
	require.NoError(t, task.Transition(StatusDone))

	require.Error(t, task.Transition(StatusPlanned))
}

func TestBeginQA_RespectsBudget(t *testing.T) {
	task := NewTask("fix login", "")

	require.True(t, task.BeginQA(3))
	require.True(t, task.BeginQA(3))
	require.True(t, task.BeginQA(3))
	assert.Equal(t, 3, task.QAAttempts)
	assert.True(t, task.InQASession)

	assert.False(t, task.BeginQA(3), "fourth attempt exceeds the budget")
	assert.Equal(t, 3, task.QAAttempts)

	task.EndQA(true)
	assert.False(t, task.InQASession)
	assert.True(t, task.QAExceededWarning)

	task.ResetQA()
	assert.Zero(t, task.QAAttempts)
	assert.True(t, task.QAExceededWarning, "warning stays until a pass clears it")
}

func TestAddUsage_Accumulates(t *testing.T) {
	task := NewTask("fix login", "")
	task.AddUsage(100, 20, 5, 1, 0.12)
	task.AddUsage(50, 10, 0, 0, 0.03)

	assert.Equal(t, int64(150), task.Usage.InputTokens)
	assert.Equal(t, int64(30), task.Usage.OutputTokens)
	assert.Equal(t, int64(5), task.Usage.CacheReadTokens)
	assert.InDelta(t, 0.15, task.TotalCostUSD, 1e-9)
}

func TestRecordFeedback(t *testing.T) {
	task := NewTask("fix login", "")
	task.RecordFeedback("use bcrypt instead")

	require.Len(t, task.FeedbackHistory, 1)
	assert.Equal(t, "use bcrypt instead", task.FeedbackHistory[0].Content)
	assert.False(t, task.FeedbackHistory[0].Timestamp.IsZero())
}
