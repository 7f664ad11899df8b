package report

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/logstore"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
	"testexec-platform/internal/shared/storage/dbutil"
	"testexec-platform/internal/shared/storage/repository"
)

type fixture struct {
	store *repository.Store
	svc   *Service
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := repository.Open(dbutil.DriverSQLite, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	logs, err := logstore.NewLocalStore(root)
	require.NoError(t, err)
	return &fixture{store: store, svc: NewService(store, logs, nil, nil, nil), root: root}
}

// seedExecution 创建含 n 个脚本的计划及其 EXECUTING 执行
func (f *fixture) seedExecution(t *testing.T, n int) (*model.TestPlan, *model.PlanExecution) {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, n)
	for i := range ids {
		s := &model.TestScript{Name: "case", ScriptType: model.ScriptTypePython}
		require.NoError(t, f.store.CreateScript(ctx, s))
		ids[i] = s.ID
	}
	plan := &model.TestPlan{Name: "regression"}
	require.NoError(t, f.store.CreatePlan(ctx, plan, ids))
	plan, err := f.store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	exec := &model.PlanExecution{
		PlanID: plan.ID, NodeID: "node-a", Status: model.ExecutionStatusExecuting,
		TotalScripts: n, StartTime: time.Now(),
	}
	require.NoError(t, f.store.CreateExecution(ctx, exec))
	return plan, exec
}

// runScripts 依次为每个脚本创建日志并回报状态
func (f *fixture) runScripts(t *testing.T, plan *model.TestPlan, exec *model.PlanExecution, statuses ...model.RunStatus) *model.PlanExecution {
	t.Helper()
	ctx := context.Background()
	var last *model.PlanExecution
	for i, st := range statuses {
		entry, err := f.svc.CreateLog(ctx, exec.ID, plan.Scripts[i].ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusExecuting, entry.Status)

		_, last, err = f.svc.UpdateLogStatus(ctx, entry.ID, model.LogStatusUpdate{
			Status: st, Result: "ok", ExecutionTime: 120,
		})
		require.NoError(t, err)
	}
	return last
}

func TestAllScriptsSucceed(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 3)

	got := f.runScripts(t, plan, exec, model.RunStatusSuccess, model.RunStatusSuccess, model.RunStatusSuccess)
	assert.Equal(t, model.ExecutionStatusSuccess, got.Status)
	assert.Equal(t, 3, got.SuccessScripts)
	assert.Equal(t, 0, got.FailedScripts)
	assert.NotNil(t, got.EndTime)

	p, err := f.store.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastExecutionStatus)
	assert.Equal(t, model.ExecutionStatusSuccess, *p.LastExecutionStatus)
	assert.NotNil(t, p.LastExecutionTime)
}

func TestOneFailureFailsExecution(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 3)

	got := f.runScripts(t, plan, exec, model.RunStatusSuccess, model.RunStatusFailure, model.RunStatusSuccess)
	assert.Equal(t, model.ExecutionStatusFailure, got.Status)
	assert.Equal(t, 2, got.SuccessScripts)
	assert.Equal(t, 1, got.FailedScripts)
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 2)

	got := f.runScripts(t, plan, exec, model.RunStatusSuccess, model.RunStatusTimeout)
	assert.Equal(t, model.ExecutionStatusFailure, got.Status)
	assert.Equal(t, 1, got.FailedScripts)
}

func TestExecutionStaysExecutingUntilExhausted(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 3)

	got := f.runScripts(t, plan, exec, model.RunStatusFailure, model.RunStatusSuccess)
	assert.Equal(t, model.ExecutionStatusExecuting, got.Status)
	assert.Nil(t, got.EndTime)
	assert.Equal(t, 2, got.Finished())
}

func TestResultPreviewAndErrorMessage(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 1)
	ctx := context.Background()

	entry, err := f.svc.CreateLog(ctx, exec.ID, plan.Scripts[0].ID)
	require.NoError(t, err)

	longErr := strings.Repeat("traceback line\n", 200)
	updated, _, err := f.svc.UpdateLogStatus(ctx, entry.ID, model.LogStatusUpdate{
		Status:        model.RunStatusFailure,
		Result:        strings.Repeat("x", 100),
		ErrorMessage:  longErr,
		ExecutionTime: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 30)+"...", updated.Result)
	assert.Equal(t, longErr, updated.ErrorMessage)
	assert.Equal(t, int64(5), updated.ExecutionTime)
	assert.Equal(t, model.ExecutionStatusFailure, updated.Status)
	assert.NotNil(t, updated.EndTime)
}

func TestUpdateLogStatusErrors(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 2)
	ctx := context.Background()

	_, _, err := f.svc.UpdateLogStatus(ctx, 999, model.LogStatusUpdate{Status: model.RunStatusSuccess})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	entry, err := f.svc.CreateLog(ctx, exec.ID, plan.Scripts[0].ID)
	require.NoError(t, err)
	_, _, err = f.svc.UpdateLogStatus(ctx, entry.ID, model.LogStatusUpdate{Status: "EXECUTING"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = f.svc.UpdateLogStatus(ctx, entry.ID, model.LogStatusUpdate{Status: model.RunStatusSuccess})
	require.NoError(t, err)
	_, _, err = f.svc.UpdateLogStatus(ctx, entry.ID, model.LogStatusUpdate{Status: model.RunStatusFailure})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := f.svc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessScripts)
	assert.Equal(t, 0, got.FailedScripts)
}

func TestCreateLogRequiresLiveExecution(t *testing.T) {
	f := newFixture(t)
	plan, exec := f.seedExecution(t, 1)
	ctx := context.Background()

	_, err := f.svc.CreateLog(ctx, 4242, plan.Scripts[0].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.runScripts(t, plan, exec, model.RunStatusSuccess)
	_, err = f.svc.CreateLog(ctx, exec.ID, plan.Scripts[0].ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCreateLogRequiresScriptOfPlan(t *testing.T) {
	f := newFixture(t)
	_, exec := f.seedExecution(t, 1)
	other, _ := f.seedExecution(t, 1)
	ctx := context.Background()

	_, err := f.svc.CreateLog(ctx, exec.ID, 4242)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// 脚本存在但属于另一个计划
	_, err = f.svc.CreateLog(ctx, exec.ID, other.Scripts[0].ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	logs, err := f.svc.ListLogs(ctx, exec.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestConcurrentLogUpdates(t *testing.T) {
	f := newFixture(t)
	const n = 10
	plan, exec := f.seedExecution(t, n)
	ctx := context.Background()

	logs := make([]*model.PlanExecutionLog, n)
	for i := range logs {
		entry, err := f.svc.CreateLog(ctx, exec.ID, plan.Scripts[i].ID)
		require.NoError(t, err)
		logs[i] = entry
	}

	var wg sync.WaitGroup
	for i, entry := range logs {
		status := model.RunStatusSuccess
		if i%4 == 0 {
			status = model.RunStatusFailure
		}
		wg.Add(1)
		go func(id int64, st model.RunStatus) {
			defer wg.Done()
			_, _, err := f.svc.UpdateLogStatus(ctx, id, model.LogStatusUpdate{Status: st})
			assert.NoError(t, err)
		}(entry.ID, status)
	}
	wg.Wait()

	got, err := f.svc.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.SuccessScripts)
	assert.Equal(t, 3, got.FailedScripts)
	assert.Equal(t, model.ExecutionStatusFailure, got.Status)

	entries, err := f.svc.ListLogs(ctx, exec.ID)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

// runningTask 创建一个 RUNNING 任务
func (f *fixture) runningTask(t *testing.T) *model.ExecutionTask {
	t.Helper()
	ctx := context.Background()
	s := &model.TestScript{Name: "single", ScriptType: model.ScriptTypeShell}
	require.NoError(t, f.store.CreateScript(ctx, s))
	task := &model.ExecutionTask{ScriptID: s.ID}
	require.NoError(t, f.store.CreateTask(ctx, task))
	now := time.Now()
	require.NoError(t, f.store.TransitionTask(ctx, task.ID, storage.TaskTransition{
		From: []model.TaskStatus{model.TaskStatusPending}, To: model.TaskStatusRunning,
		NodeID: "node-a", StartTime: &now,
	}))
	return task
}

func TestRecordTaskResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok := f.runningTask(t)
	got, err := f.svc.RecordTaskResult(ctx, ok.ID, model.ScriptResult{Status: model.RunStatusSuccess, Output: "pass", DurationMs: 12})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.EndTime)

	res, err := f.svc.GetTaskResult(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, "pass", res.Output)
	assert.Equal(t, int64(12), res.DurationMs)

	bad := f.runningTask(t)
	got, err = f.svc.RecordTaskResult(ctx, bad.ID, model.ScriptResult{Status: model.RunStatusTimeout})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, "TIMEOUT", got.ErrorMessage)

	// 已完成的任务不能再次回报
	_, err = f.svc.RecordTaskResult(ctx, ok.ID, model.ScriptResult{Status: model.RunStatusFailure, Error: "late"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.RecordTaskResult(ctx, 777, model.ScriptResult{Status: model.RunStatusSuccess})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.GetTaskResult(ctx, 777)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
