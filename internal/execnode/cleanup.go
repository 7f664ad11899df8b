package execnode

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"testexec-platform/internal/config"
)

// Cleaner 定时清理暂存脚本
//
// 暂存目录按 YYYYMMDD 分日期，清理只删除早于今天且超过保留时长的日期目录，
// 其他名称的目录不动。
type Cleaner struct {
	root     string
	schedule string
	maxAge   time.Duration
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewCleaner 创建清理器，schedule 为 5 段 cron 表达式
func NewCleaner(root, schedule string, maxAge time.Duration, m *Metrics, log *zap.Logger) *Cleaner {
	if maxAge < config.MinCleanupMaxAge {
		maxAge = config.MinCleanupMaxAge
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cleaner{
		root:     root,
		schedule: schedule,
		maxAge:   maxAge,
		metrics:  m,
		log:      log.Named("cleanup"),
		now:      time.Now,
	}
}

// Start 启动 cron 调度，返回的 Cron 由调用方 Stop
func (c *Cleaner) Start() (*cron.Cron, error) {
	sched := cron.New()
	if _, err := sched.AddFunc(c.schedule, func() { c.Clean() }); err != nil {
		return nil, err
	}
	sched.Start()
	c.log.Info("temp cleanup scheduled", zap.String("schedule", c.schedule), zap.Duration("maxAge", c.maxAge))
	return sched, nil
}

// Clean 删除过期的日期目录，返回删除数量
func (c *Cleaner) Clean() int {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("read temp dir failed", zap.Error(err))
		}
		return 0
	}

	now := c.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("20060102", entry.Name(), now.Location())
		if err != nil || !day.Before(today) || now.Sub(day) < c.maxAge {
			continue
		}
		path := filepath.Join(c.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			c.log.Warn("remove failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	c.metrics.cleaned(removed)
	if removed > 0 {
		c.log.Info("temp scripts cleaned", zap.Int("dirs", removed))
	}
	return removed
}
