package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/cache"
	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage/dbutil"
	"testexec-platform/internal/shared/storage/repository"
)

// recordingPublisher 记录推送的消息
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []string
}

func (p *recordingPublisher) Publish(msgType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgType)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

// fakeClock 可手动推进的时钟
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *fakeClock, *recordingPublisher) {
	t.Helper()
	store, err := repository.Open(dbutil.DriverSQLite, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := &recordingPublisher{}
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewService(store, nil, pub, nil, nil)
	svc.now = clock.now
	return svc, clock, pub
}

func register(t *testing.T, svc *Service, nodeID string, port int) *model.ExecutionNode {
	t.Helper()
	n, err := svc.Register(context.Background(), &model.NodeRegistration{
		NodeID: nodeID, Host: "10.0.0.1", Port: port, OSInfo: "linux",
	})
	require.NoError(t, err)
	return n
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, &model.NodeRegistration{Host: "h", Port: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.Register(ctx, &model.NodeRegistration{NodeID: "n", Port: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.Register(ctx, &model.NodeRegistration{NodeID: "n", Host: "h", Port: 70000})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRegisterTwiceRefreshesNode(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()

	first := register(t, svc, "node-a", 8090)
	assert.Equal(t, model.NodeStatusOnline, first.Status)
	assert.Equal(t, "node-a", first.Name)

	_, err := svc.UpdateStatus(ctx, "node-a", model.NodeStatusOffline)
	require.NoError(t, err)

	clock.advance(time.Minute)
	second, err := svc.Register(ctx, &model.NodeRegistration{NodeID: "node-a", Name: "renamed", Host: "10.0.0.2", Port: 9000})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.NodeStatusOnline, second.Status)
	assert.Equal(t, "http://10.0.0.2:9000", second.BaseURL())
	require.NotNil(t, second.LastHeartbeat)
	assert.True(t, second.LastHeartbeat.Equal(clock.now()))

	nodes, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestHeartbeat(t *testing.T) {
	svc, clock, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.Heartbeat(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	register(t, svc, "node-a", 8090)
	_, err = svc.UpdateStatus(ctx, "node-a", model.NodeStatusOffline)
	require.NoError(t, err)
	published := pub.count()

	clock.advance(10 * time.Second)
	n, err := svc.Heartbeat(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, model.NodeStatusOnline, n.Status)
	assert.True(t, n.LastHeartbeat.Equal(clock.now()))
	assert.Equal(t, published+1, pub.count(), "re-promotion is published")

	// 已在线的心跳不推送
	_, err = svc.Heartbeat(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, published+1, pub.count())
}

func TestHeartbeatKeepsBusy(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	register(t, svc, "node-a", 8090)
	_, err := svc.UpdateStatus(ctx, "node-a", model.NodeStatusBusy)
	require.NoError(t, err)

	n, err := svc.Heartbeat(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, model.NodeStatusBusy, n.Status)
}

func TestUpdateStatusValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, "node-a", "SLEEPING")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, err = svc.UpdateStatus(ctx, "node-a", model.NodeStatusOnline)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemove(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	register(t, svc, "node-a", 8090)
	require.NoError(t, svc.Remove(ctx, "node-a"))
	_, err := svc.Get(ctx, "node-a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// 不存在的节点删除不报错
	require.NoError(t, svc.Remove(ctx, "node-a"))
}

func TestSelectAvailableUsesRegistrationOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SelectAvailable(ctx)
	assert.ErrorIs(t, err, apperr.ErrNodeUnavailable)

	register(t, svc, "node-b", 8091)
	register(t, svc, "node-a", 8090)
	register(t, svc, "node-c", 8092)

	n, err := svc.SelectAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-b", n.NodeID)

	_, err = svc.UpdateStatus(ctx, "node-b", model.NodeStatusBusy)
	require.NoError(t, err)
	n, err = svc.SelectAvailable(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node-a", n.NodeID)
}

func TestRequireOnline(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RequireOnline(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	register(t, svc, "node-a", 8090)
	n, err := svc.RequireOnline(ctx, "node-a")
	require.NoError(t, err)
	assert.Equal(t, "node-a", n.NodeID)

	_, err = svc.UpdateStatus(ctx, "node-a", model.NodeStatusOffline)
	require.NoError(t, err)
	_, err = svc.RequireOnline(ctx, "node-a")
	assert.ErrorIs(t, err, apperr.ErrNodeUnavailable)
}

// memoryMirror 内存心跳镜像，Put 可注入错误
type memoryMirror struct {
	cache.Discard
	entries map[string]*cache.NodeHeartbeat
	failPut error
}

func (m *memoryMirror) Put(_ context.Context, hb *cache.NodeHeartbeat) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.entries[hb.NodeID] = hb
	return nil
}

func (m *memoryMirror) Remove(_ context.Context, nodeID string) error {
	delete(m.entries, nodeID)
	return nil
}

func TestHeartbeatMirror(t *testing.T) {
	store, err := repository.Open(dbutil.DriverSQLite, ":memory:", true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mirror := &memoryMirror{entries: map[string]*cache.NodeHeartbeat{}}
	svc := NewService(store, mirror, nil, nil, nil)
	ctx := context.Background()

	register(t, svc, "node-a", 8091)
	require.Contains(t, mirror.entries, "node-a")
	assert.Equal(t, "ONLINE", mirror.entries["node-a"].Status)
	assert.Equal(t, 8091, mirror.entries["node-a"].Port)

	_, err = svc.UpdateStatus(ctx, "node-a", model.NodeStatusBusy)
	require.NoError(t, err)
	assert.Equal(t, "BUSY", mirror.entries["node-a"].Status)

	_, err = svc.UpdateStatus(ctx, "node-a", model.NodeStatusOffline)
	require.NoError(t, err)
	assert.NotContains(t, mirror.entries, "node-a")

	// 镜像写失败不影响心跳
	mirror.failPut = assert.AnError
	_, err = svc.Heartbeat(ctx, "node-a")
	require.NoError(t, err)
}
