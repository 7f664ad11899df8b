package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreviewResult(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "ok", "ok"},
		{"exactly limit", strings.Repeat("a", 30), strings.Repeat("a", 30)},
		{"over limit", strings.Repeat("b", 31), strings.Repeat("b", 30) + "..."},
		{"multibyte", strings.Repeat("测", 40), strings.Repeat("测", 30) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PreviewResult(tt.in))
		})
	}
}

func TestHeartbeatExpired(t *testing.T) {
	now := time.Now()
	n := &ExecutionNode{}
	assert.True(t, n.HeartbeatExpired(now, time.Minute), "never heartbeated")

	recent := now.Add(-30 * time.Second)
	n.LastHeartbeat = &recent
	assert.False(t, n.HeartbeatExpired(now, time.Minute))

	stale := now.Add(-61 * time.Second)
	n.LastHeartbeat = &stale
	assert.True(t, n.HeartbeatExpired(now, time.Minute))
}

func TestScriptTypeNormalize(t *testing.T) {
	assert.Equal(t, ScriptTypePython, ScriptType("py").Normalize())
	assert.Equal(t, ScriptTypePython, ScriptType("Python").Normalize())
	assert.Equal(t, ScriptTypeShell, ScriptType("shell").Normalize())
	assert.Equal(t, ScriptType("ruby"), ScriptType("Ruby").Normalize())

	assert.Equal(t, ".py", ScriptType("python").Extension())
	assert.Equal(t, ".java", ScriptTypeJava.Extension())
}

func TestRunStatusMapping(t *testing.T) {
	assert.Equal(t, ExecutionStatusSuccess, RunStatusSuccess.ExecutionStatus())
	assert.Equal(t, ExecutionStatusFailure, RunStatusFailure.ExecutionStatus())
	assert.Equal(t, ExecutionStatusFailure, RunStatusTimeout.ExecutionStatus())
	assert.False(t, RunStatusTimeout.Succeeded())
}

func TestNodeBaseURL(t *testing.T) {
	n := &ExecutionNode{Host: "10.0.0.5", Port: 8081}
	assert.Equal(t, "http://10.0.0.5:8081", n.BaseURL())
	assert.True(t, NodeStatusBusy.IsValid())
	assert.False(t, NodeStatus("DRAINING").IsValid())
}
