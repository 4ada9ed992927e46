package backup

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"HibiscusSOS/pkg/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler 求救单数据库的定期备份。
// 终态单子从不物理删除，备份是事后审计的最后保障
type Scheduler struct {
	driver   string
	dsn      string
	dir      string
	schedule string
	c        *cron.Cron
}

func NewScheduler(driver, dsn, dir, schedule string) *Scheduler {
	return &Scheduler{
		driver:   driver,
		dsn:      dsn,
		dir:      dir,
		schedule: schedule,
		c:        cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start 按 Cron 表达式启动定期备份
func (s *Scheduler) Start() error {
	_, err := s.c.AddFunc(s.schedule, func() {
		if err := s.Execute(); err != nil {
			logger.Warn("数据库备份失败", zap.Error(err))
		} else {
			logger.Info("数据库备份完成", zap.String("dir", s.dir))
		}
	})
	if err != nil {
		return err
	}
	s.c.Start()
	return nil
}

// Stop 停止调度并等待进行中的备份结束
func (s *Scheduler) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
}

// Execute 立即执行一次备份
func (s *Scheduler) Execute() error {
	stamp := time.Now().Format("20060102_150405")
	switch s.driver {
	case "mysql":
		return s.backupMySQL(filepath.Join(s.dir, fmt.Sprintf("sos_backup_%s.sql", stamp)))
	case "pg":
		return fmt.Errorf("pg 备份请使用外部 pg_dump 任务")
	default:
		return s.backupSQLite(filepath.Join(s.dir, fmt.Sprintf("sos_backup_%s.db", stamp)))
	}
}

func (s *Scheduler) backupSQLite(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("创建备份目录失败: %w", err)
	}

	src, err := os.Open(s.dsn)
	if err != nil {
		return fmt.Errorf("打开数据库文件失败: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("创建备份文件失败: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("写入备份失败: %w", err)
	}
	return nil
}

func (s *Scheduler) backupMySQL(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("创建备份目录失败: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("创建备份文件失败: %w", err)
	}
	defer out.Close()

	cmd := exec.Command("mysqldump", s.dsn)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mysqldump 执行失败: %w", err)
	}
	return nil
}
