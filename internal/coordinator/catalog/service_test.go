package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage/dbutil"
	"testexec-platform/internal/shared/storage/repository"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	store, err := repository.Open(dbutil.DriverSQLite, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	return NewService(store, root, nil, nil), root
}

func TestCreateScriptValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		script model.TestScript
	}{
		{"missing name", model.TestScript{ScriptType: "sh", Content: "echo"}},
		{"missing type", model.TestScript{Name: "a", Content: "echo"}},
		{"missing body", model.TestScript{Name: "a", ScriptType: "sh"}},
		{"negative timeout", model.TestScript{Name: "a", ScriptType: "sh", Content: "echo", TimeoutSeconds: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.script
			assert.ErrorIs(t, svc.CreateScript(ctx, &s), apperr.ErrInvalidArgument)
		})
	}

	s := &model.TestScript{Name: " login ", ScriptType: "Shell", Content: "echo ok"}
	require.NoError(t, svc.CreateScript(ctx, s))
	assert.NotZero(t, s.ID)

	got, err := svc.GetScript(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "login", got.Name)
	assert.Equal(t, model.ScriptTypeShell, got.ScriptType)

	_, err = svc.GetScript(ctx, 404)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreatePlanKeepsScriptOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"c", "a", "b"} {
		s := &model.TestScript{Name: name, ScriptType: model.ScriptTypePython, Content: "print(1)"}
		require.NoError(t, svc.CreateScript(ctx, s))
		ids = append(ids, s.ID)
	}
	plan, err := svc.CreatePlan(ctx, &model.TestPlan{Name: "smoke", ExecutionEndpointType: model.EndpointMiniApp}, []int64{ids[2], ids[0], ids[1]})
	require.NoError(t, err)
	require.Len(t, plan.Scripts, 3)
	assert.Equal(t, "b", plan.Scripts[0].Name)
	assert.Equal(t, "c", plan.Scripts[1].Name)
	assert.Equal(t, "a", plan.Scripts[2].Name)
	assert.Nil(t, plan.LastExecutionStatus)

	_, err = svc.CreatePlan(ctx, &model.TestPlan{Name: "broken"}, []int64{ids[0], 999})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.CreatePlan(ctx, &model.TestPlan{Name: ""}, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.GetPlan(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateTaskAndDetail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	s := &model.TestScript{Name: "api", ScriptType: model.ScriptTypeJS, Content: "console.log(1)", TimeoutSeconds: 20}
	require.NoError(t, svc.CreateScript(ctx, s))
	plan, err := svc.CreatePlan(ctx, &model.TestPlan{Name: "p"}, []int64{s.ID})
	require.NoError(t, err)

	task, err := svc.CreateTask(ctx, s.ID, &plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, task.Status)

	detail, err := svc.GetTaskDetail(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", detail.Script.Content)
	assert.Equal(t, 20, detail.Script.TimeoutSeconds)
	require.NotNil(t, detail.Plan)
	assert.Equal(t, plan.ID, detail.Plan.ID)

	_, err = svc.CreateTask(ctx, 999, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	missingPlan := int64(999)
	_, err = svc.CreateTask(ctx, s.ID, &missingPlan)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.GetTaskDetail(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestOpenScriptFileStaysInRoot(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "suite"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "suite", "login.py"), []byte("print('hi')\n"), 0o644))

	f, err := svc.OpenScriptFile("suite/login.py")
	require.NoError(t, err)
	f.Close()

	for _, bad := range []string{"../etc/passwd", "/etc/passwd", "suite/../../x", ""} {
		_, err := svc.OpenScriptFile(bad)
		assert.ErrorIs(t, err, apperr.ErrInvalidArgument, bad)
	}
	_, err = svc.OpenScriptFile("suite/missing.py")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.OpenScriptFile("suite")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	disabled := NewService(nil, "", nil, nil)
	_, err = disabled.OpenScriptFile("suite/login.py")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHandlerRoutes(t *testing.T) {
	svc, root := newTestService(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "check.sh"), []byte("exit 0\n"), 0o644))
	mux := http.NewServeMux()
	NewHandler(svc).RegisterRoutes(mux)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/scripts", `{"name":"check","scriptType":"sh","filePath":"check.sh"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var script model.TestScript
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &script))
	sid := strconv.FormatInt(script.ID, 10)

	rec = do(http.MethodGet, "/api/scripts/"+sid, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/api/scripts/download?filePath=check.sh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exit 0\n", rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/api/scripts/download?filePath=../x", "").Code)

	rec = do(http.MethodPost, "/api/plans", `{"name":"nightly","scriptIds":[`+sid+`]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var plan model.TestPlan
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Scripts, 1)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/api/plans/"+strconv.FormatInt(plan.ID, 10), "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/api/plans/77", "").Code)

	rec = do(http.MethodPost, "/api/test-tasks", `{"scriptId":`+sid+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task model.ExecutionTask
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))

	rec = do(http.MethodGet, "/api/test-tasks/"+strconv.FormatInt(task.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail model.TaskDetail
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&detail))
	assert.Equal(t, "check.sh", detail.Script.FilePath)
	assert.Nil(t, detail.Plan)

	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/test-tasks", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/api/scripts", `{bad`).Code)
}
