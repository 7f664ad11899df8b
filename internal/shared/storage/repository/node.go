// Package repository ExecutionNode 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"testexec-platform/internal/shared/model"
	"testexec-platform/internal/shared/storage"
)

const nodeColumns = `id, node_id, COALESCE(name, ''), host, port, COALESCE(os_info, ''), COALESCE(cpu_info, ''),
	COALESCE(memory_info, ''), status, last_heartbeat, created_at, updated_at`

// UpsertNode 注册或刷新节点
//
// 已存在的节点保留原主键（即注册顺序），刷新地址与元数据并强制 ONLINE。
func (s *Store) UpsertNode(ctx context.Context, reg *model.NodeRegistration, now time.Time) (*model.ExecutionNode, error) {
	ts := dbTime(now)
	conflict := s.dialect.UpsertConflict("node_id", []string{
		"name = EXCLUDED.name",
		"host = EXCLUDED.host",
		"port = EXCLUDED.port",
		"os_info = EXCLUDED.os_info",
		"cpu_info = EXCLUDED.cpu_info",
		"memory_info = EXCLUDED.memory_info",
		"status = EXCLUDED.status",
		"last_heartbeat = EXCLUDED.last_heartbeat",
		"updated_at = EXCLUDED.updated_at",
	})
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO execution_nodes (node_id, name, host, port, os_info, cpu_info, memory_info, status, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		%s
	`, conflict))
	_, err := s.db.ExecContext(ctx, query,
		reg.NodeID, nullString(reg.Name), reg.Host, reg.Port,
		nullString(reg.OSInfo), nullString(reg.CPUInfo), nullString(reg.MemoryInfo),
		model.NodeStatusOnline, ts, ts, ts)
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, reg.NodeID)
}

// GetNode 获取节点，不存在时返回 nil, nil
func (s *Store) GetNode(ctx context.Context, nodeID string) (*model.ExecutionNode, error) {
	query := s.rebind(`SELECT ` + nodeColumns + ` FROM execution_nodes WHERE node_id = $1`)
	node, err := scanNode(s.db.QueryRowContext(ctx, query, nodeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return node, err
}

// TouchNodeHeartbeat 刷新心跳时间
//
// ONLINE 和 BUSY 保持原状态，其余状态提升为 ONLINE。
func (s *Store) TouchNodeHeartbeat(ctx context.Context, nodeID string, now time.Time) (*model.ExecutionNode, error) {
	ts := dbTime(now)
	query := s.rebind(`
		UPDATE execution_nodes
		SET status = CASE WHEN status IN ('ONLINE', 'BUSY') THEN status ELSE 'ONLINE' END,
		    last_heartbeat = $1, updated_at = $2
		WHERE node_id = $3
	`)
	res, err := s.db.ExecContext(ctx, query, ts, ts, nodeID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
	}
	return s.GetNode(ctx, nodeID)
}

// UpdateNodeStatus 显式设置节点状态
func (s *Store) UpdateNodeStatus(ctx context.Context, nodeID string, status model.NodeStatus, now time.Time) error {
	query := s.rebind(`UPDATE execution_nodes SET status = $1, updated_at = $2 WHERE node_id = $3`)
	res, err := s.db.ExecContext(ctx, query, status, dbTime(now), nodeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
	}
	return nil
}

// DemoteStaleNode 把心跳早于 cutoff（或从未心跳）且未 OFFLINE 的节点标记为 OFFLINE
//
// 条件在同一条 UPDATE 中判断，巡检读快照之后到达的心跳不会被覆盖。
// 返回是否确实降级了一行。
func (s *Store) DemoteStaleNode(ctx context.Context, nodeID string, cutoff, now time.Time) (bool, error) {
	query := s.rebind(`
		UPDATE execution_nodes
		SET status = 'OFFLINE', updated_at = $1
		WHERE node_id = $2 AND status <> 'OFFLINE'
		  AND (last_heartbeat IS NULL OR last_heartbeat < $3)
	`)
	res, err := s.db.ExecContext(ctx, query, dbTime(now), nodeID, dbTime(cutoff))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteNode 删除节点，不存在时返回 ErrNotFound
func (s *Store) DeleteNode(ctx context.Context, nodeID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM execution_nodes WHERE node_id = $1`), nodeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
	}
	return nil
}

// ListNodes 按注册顺序列出全部节点
func (s *Store) ListNodes(ctx context.Context) ([]*model.ExecutionNode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM execution_nodes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListNodesByStatus 按注册顺序列出指定状态的节点
func (s *Store) ListNodesByStatus(ctx context.Context, status model.NodeStatus) ([]*model.ExecutionNode, error) {
	query := s.rebind(`SELECT ` + nodeColumns + ` FROM execution_nodes WHERE status = $1 ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*model.ExecutionNode, error) {
	node := &model.ExecutionNode{}
	var lastHeartbeat sql.NullTime
	err := row.Scan(&node.ID, &node.NodeID, &node.Name, &node.Host, &node.Port,
		&node.OSInfo, &node.CPUInfo, &node.MemoryInfo, &node.Status,
		&lastHeartbeat, &node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		return nil, err
	}
	node.LastHeartbeat = timePtr(lastHeartbeat)
	return node, nil
}

func scanNodes(rows *sql.Rows) ([]*model.ExecutionNode, error) {
	var nodes []*model.ExecutionNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}
