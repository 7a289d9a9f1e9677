package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"campus-order-bot/internal/logger"

	"go.uber.org/zap"
)

const (
	defaultBackupDir = "backups"
	backupRetention  = 7 * 24 * time.Hour
)

// pgDump - команда снятия дампа; подменяется в тестах.
var pgDump = func(ctx context.Context, dsn, filename string) error {
	out, err := exec.CommandContext(ctx, "pg_dump", dsn, "-Fc", "-f", filename).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, out)
	}
	return nil
}

// BackupDatabase создает дамп Postgres в dir и возвращает путь к файлу.
func BackupDatabase(ctx context.Context, dir, prefix, dsn string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	filename := filepath.Join(dir, prefix+"_"+time.Now().Format("20060102_150405")+".dump")
	if err := pgDump(ctx, dsn, filename); err != nil {
		_ = os.Remove(filename)
		return "", err
	}
	return filename, nil
}

// CleanOldBackups удаляет дампы старше maxAge и возвращает число удалённых.
func CleanOldBackups(dir string, maxAge time.Duration, now time.Time) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.dump"))
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(f) == nil {
			removed++
		}
	}
	return removed, nil
}

// AutoBackup запускает бэкап и чистку старых дампов (по cron).
func (h *Handler) AutoBackup(ctx context.Context) {
	filename, err := BackupDatabase(ctx, h.backupDir, "autobackup", h.dsn)
	if err != nil {
		logger.NotifyAdmin("Ошибка автоматического резервного копирования: " + err.Error())
		return
	}
	removed, err := CleanOldBackups(h.backupDir, backupRetention, h.now())
	if err != nil {
		logger.Error("clean old backups failed", zap.Error(err))
	}
	logger.Info("database backup created", zap.String("file", filename), zap.Int("removed_old", removed))
}
