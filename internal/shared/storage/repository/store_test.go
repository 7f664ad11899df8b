// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证 repository 层所有存储接口的正确性。
// 无需外部数据库依赖，可在任何环境下运行。
package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
	"testexec-platform/internal/shared/storage/dbutil"
	sqlitedriver "testexec-platform/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(dbutil.DriverSQLite, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedPlan 创建 n 个脚本和引用它们的计划
func seedPlan(t *testing.T, s *Store, n int) *model.TestPlan {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		script := &model.TestScript{Name: fmt.Sprintf("script-%d", i), ScriptType: model.ScriptTypePython, Content: "print(1)"}
		require.NoError(t, s.CreateScript(ctx, script))
		ids[i] = script.ID
	}
	plan := &model.TestPlan{Name: "plan", ExecutionEndpointType: model.EndpointWeb}
	require.NoError(t, s.CreatePlan(ctx, plan, ids))
	got, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	return got
}

// seedExecution 为计划创建 EXECUTING 执行及每个脚本的日志
func seedExecution(t *testing.T, s *Store, plan *model.TestPlan) (*model.PlanExecution, []*model.PlanExecutionLog) {
	t.Helper()
	ctx := context.Background()
	exec := &model.PlanExecution{
		PlanID:       plan.ID,
		NodeID:       "node-a",
		Status:       model.ExecutionStatusExecuting,
		TotalScripts: len(plan.Scripts),
		StartTime:    time.Now(),
	}
	require.NoError(t, s.CreateExecution(ctx, exec))

	logs := make([]*model.PlanExecutionLog, 0, len(plan.Scripts))
	for _, script := range plan.Scripts {
		log := &model.PlanExecutionLog{ExecutionID: exec.ID, ScriptID: script.ID}
		require.NoError(t, s.CreateExecutionLog(ctx, log))
		logs = append(logs, log)
	}
	return exec, logs
}

func completion(status model.ExecutionStatus) storage.LogCompletion {
	return storage.LogCompletion{Status: status, Result: "ok", ExecutionTime: 12, EndTime: time.Now()}
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
	assert.False(t, d.SupportsReturning())
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
}

// ============================================================================
// Node 测试
// ============================================================================

func TestNodeRegisterAndHeartbeat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	reg := &model.NodeRegistration{NodeID: "node-a", Name: "A", Host: "10.0.0.1", Port: 8081, OSInfo: "linux"}
	node, err := s.UpsertNode(ctx, reg, now)
	require.NoError(t, err)
	assert.Equal(t, model.NodeStatusOnline, node.Status)
	require.NotNil(t, node.LastHeartbeat)
	assert.WithinDuration(t, now, *node.LastHeartbeat, time.Second)
	firstID := node.ID

	// 下线后重新注册：保留主键，刷新地址并恢复 ONLINE
	require.NoError(t, s.UpdateNodeStatus(ctx, "node-a", model.NodeStatusOffline, now))
	reg.Host = "10.0.0.2"
	node, err = s.UpsertNode(ctx, reg, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, firstID, node.ID)
	assert.Equal(t, "10.0.0.2", node.Host)
	assert.Equal(t, model.NodeStatusOnline, node.Status)

	// 心跳：BUSY 保持，OFFLINE 提升
	require.NoError(t, s.UpdateNodeStatus(ctx, "node-a", model.NodeStatusBusy, now))
	node, err = s.TouchNodeHeartbeat(ctx, "node-a", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.NodeStatusBusy, node.Status)

	require.NoError(t, s.UpdateNodeStatus(ctx, "node-a", model.NodeStatusOffline, now))
	node, err = s.TouchNodeHeartbeat(ctx, "node-a", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, model.NodeStatusOnline, node.Status)

	_, err = s.TouchNodeHeartbeat(ctx, "ghost", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDemoteStaleNodeHonoursCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.UpsertNode(ctx, &model.NodeRegistration{NodeID: "node-a", Host: "h", Port: 1}, now)
	require.NoError(t, err)

	// 心跳不早于 cutoff：不降级
	ok, err := s.DemoteStaleNode(ctx, "node-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.DemoteStaleNode(ctx, "node-a", now.Add(time.Second), now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	node, err := s.GetNode(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, model.NodeStatusOffline, node.Status)

	// 已 OFFLINE 不再计数，未知节点也不报错
	ok, err = s.DemoteStaleNode(ctx, "node-a", now.Add(time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DemoteStaleNode(ctx, "ghost", now, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeListOrderAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, id := range []string{"n3", "n1", "n2"} {
		_, err := s.UpsertNode(ctx, &model.NodeRegistration{NodeID: id, Host: "h", Port: 1}, now)
		require.NoError(t, err)
	}
	require.NoError(t, s.UpdateNodeStatus(ctx, "n3", model.NodeStatusOffline, now))

	all, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"n3", "n1", "n2"}, []string{all[0].NodeID, all[1].NodeID, all[2].NodeID})

	online, err := s.ListNodesByStatus(ctx, model.NodeStatusOnline)
	require.NoError(t, err)
	require.Len(t, online, 2)
	assert.Equal(t, "n1", online[0].NodeID)

	require.NoError(t, s.DeleteNode(ctx, "n1"))
	assert.ErrorIs(t, s.DeleteNode(ctx, "n1"), storage.ErrNotFound)
	got, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// ============================================================================
// Catalog 测试
// ============================================================================

func TestPlanKeepsScriptOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.TestScript{Name: "a", ScriptType: model.ScriptTypeShell, Content: "echo a"}
	b := &model.TestScript{Name: "b", ScriptType: model.ScriptTypePython, FilePath: "scripts/b.py", TimeoutSeconds: 5}
	require.NoError(t, s.CreateScript(ctx, a))
	require.NoError(t, s.CreateScript(ctx, b))

	plan := &model.TestPlan{Name: "p", ExecutionEndpointType: model.EndpointMiniApp}
	require.NoError(t, s.CreatePlan(ctx, plan, []int64{b.ID, a.ID}))

	got, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, got.Scripts, 2)
	assert.Equal(t, "b", got.Scripts[0].Name)
	assert.Equal(t, "scripts/b.py", got.Scripts[0].FilePath)
	assert.Equal(t, 5, got.Scripts[0].TimeoutSeconds)
	assert.Equal(t, "a", got.Scripts[1].Name)
	assert.Equal(t, model.EndpointMiniApp, got.ExecutionEndpointType)
	assert.Nil(t, got.LastExecutionStatus)

	err = s.CreatePlan(ctx, &model.TestPlan{Name: "bad"}, []int64{999})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing, err := s.GetPlan(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// ============================================================================
// Task 测试
// ============================================================================

func TestTaskTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 1)

	task := &model.ExecutionTask{ScriptID: plan.Scripts[0].ID, PlanID: &plan.ID}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.Equal(t, model.TaskStatusPending, task.Status)

	start := time.Now()
	require.NoError(t, s.TransitionTask(ctx, task.ID, storage.TaskTransition{
		From:      []model.TaskStatus{model.TaskStatusPending},
		To:        model.TaskStatusRunning,
		NodeID:    "node-a",
		StartTime: &start,
	}))

	// 已经是 RUNNING，再次启动应冲突
	err := s.TransitionTask(ctx, task.ID, storage.TaskTransition{
		From: []model.TaskStatus{model.TaskStatusPending},
		To:   model.TaskStatusRunning,
	})
	assert.ErrorIs(t, err, storage.ErrConflict)

	end := time.Now()
	require.NoError(t, s.RecordTaskResult(ctx,
		&model.TaskResult{TaskID: task.ID, Status: model.RunStatusSuccess, Output: "hello", DurationMs: 40},
		storage.TaskTransition{From: []model.TaskStatus{model.TaskStatusRunning}, To: model.TaskStatusCompleted, EndTime: &end}))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, "node-a", got.ExecutionNodeID)
	require.NotNil(t, got.PlanID)
	assert.Equal(t, plan.ID, *got.PlanID)
	assert.NotNil(t, got.StartTime)
	assert.NotNil(t, got.EndTime)

	res, err := s.GetTaskResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
	assert.Equal(t, int64(40), res.DurationMs)

	err = s.TransitionTask(ctx, 999, storage.TaskTransition{From: []model.TaskStatus{model.TaskStatusPending}, To: model.TaskStatusFailed})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordTaskResultRollsBackOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 1)

	task := &model.ExecutionTask{ScriptID: plan.Scripts[0].ID}
	require.NoError(t, s.CreateTask(ctx, task))

	err := s.RecordTaskResult(ctx,
		&model.TaskResult{TaskID: task.ID, Status: model.RunStatusFailure},
		storage.TaskTransition{From: []model.TaskStatus{model.TaskStatusRunning}, To: model.TaskStatusFailed})
	assert.ErrorIs(t, err, storage.ErrConflict)

	res, err := s.GetTaskResult(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, res)
}

// ============================================================================
// PlanExecution 测试
// ============================================================================

func TestExecutionAllSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 3)
	exec, logs := seedExecution(t, s, plan)

	for i, log := range logs {
		got, err := s.FinishExecutionLog(ctx, log.ID, completion(model.ExecutionStatusSuccess))
		require.NoError(t, err)
		assert.Equal(t, i+1, got.SuccessScripts)
		if i < len(logs)-1 {
			assert.Equal(t, model.ExecutionStatusExecuting, got.Status)
			assert.Nil(t, got.EndTime)
		}
	}

	final, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusSuccess, final.Status)
	assert.Equal(t, 3, final.SuccessScripts)
	assert.Equal(t, 0, final.FailedScripts)
	assert.NotNil(t, final.EndTime)

	p, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastExecutionStatus)
	assert.Equal(t, model.ExecutionStatusSuccess, *p.LastExecutionStatus)
	assert.NotNil(t, p.LastExecutionTime)
}

func TestExecutionWithFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 3)
	exec, logs := seedExecution(t, s, plan)

	_, err := s.FinishExecutionLog(ctx, logs[0].ID, completion(model.ExecutionStatusSuccess))
	require.NoError(t, err)
	mid, err := s.FinishExecutionLog(ctx, logs[1].ID, completion(model.ExecutionStatusFailure))
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusExecuting, mid.Status)

	p, err := s.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastExecutionStatus)
	assert.Equal(t, model.ExecutionStatusExecuting, *p.LastExecutionStatus)

	final, err := s.FinishExecutionLog(ctx, logs[2].ID, completion(model.ExecutionStatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, exec.ID, final.ID)
	assert.Equal(t, model.ExecutionStatusFailure, final.Status)
	assert.Equal(t, 2, final.SuccessScripts)
	assert.Equal(t, 1, final.FailedScripts)

	stored, err := s.ListExecutionLogs(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, model.ExecutionStatusFailure, stored[1].Status)
	assert.Equal(t, int64(12), stored[1].ExecutionTime)
	assert.NotNil(t, stored[1].EndTime)
}

func TestFinishExecutionLogOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 2)
	exec, logs := seedExecution(t, s, plan)

	_, err := s.FinishExecutionLog(ctx, logs[0].ID, completion(model.ExecutionStatusSuccess))
	require.NoError(t, err)
	_, err = s.FinishExecutionLog(ctx, logs[0].ID, completion(model.ExecutionStatusFailure))
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.FinishExecutionLog(ctx, 9999, completion(model.ExecutionStatusSuccess))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.FinishExecutionLog(ctx, logs[1].ID, completion(model.ExecutionStatusExecuting))
	assert.Error(t, err)

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessScripts)
	assert.Equal(t, 0, got.FailedScripts)
	assert.Equal(t, model.ExecutionStatusExecuting, got.Status)
}

func TestFinishExecutionLogConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 8)
	exec, logs := seedExecution(t, s, plan)

	var wg sync.WaitGroup
	errs := make(chan error, len(logs))
	for i, log := range logs {
		status := model.ExecutionStatusSuccess
		if i%4 == 0 {
			status = model.ExecutionStatusFailure
		}
		wg.Add(1)
		go func(id int64, st model.ExecutionStatus) {
			defer wg.Done()
			_, err := s.FinishExecutionLog(ctx, id, completion(st))
			errs <- err
		}(log.ID, status)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.SuccessScripts)
	assert.Equal(t, 2, got.FailedScripts)
	assert.Equal(t, model.ExecutionStatusFailure, got.Status)
}

func TestListExecutionsByPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	plan := seedPlan(t, s, 1)
	first, _ := seedExecution(t, s, plan)
	second, _ := seedExecution(t, s, plan)

	list, err := s.ListExecutionsByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
