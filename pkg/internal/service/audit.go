package service

import (
	"context"

	"gorm.io/gorm"

	"github.com/yeisme/fitsvault/pkg/internal/model"
	nlog "github.com/yeisme/fitsvault/pkg/log"
)

type usageLogKey struct{}

// WithUsageLog 把本次请求的 usagelog id 放入 context.
func WithUsageLog(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, usageLogKey{}, id)
}

// UsageLogID 本次请求的 usagelog id，没有时为 0.
func UsageLogID(ctx context.Context) uint {
	id, _ := ctx.Value(usageLogKey{}).(uint)
	return id
}

// RecordUsage 写入 usagelog 行.
func RecordUsage(ctx context.Context, db *gorm.DB, l *model.UsageLog) error {
	return db.WithContext(ctx).Create(l).Error
}

// FinishUsage 请求结束后回填状态、字节数与耗时.
func FinishUsage(ctx context.Context, db *gorm.DB, l *model.UsageLog) error {
	return db.WithContext(ctx).Model(&model.UsageLog{}).Where("id = ?", l.ID).Updates(map[string]any{
		"status":      l.Status,
		"bytes":       l.Bytes,
		"duration_ms": l.DurationMS,
		"user_id":     l.UserID,
		"notes":       l.Notes,
	}).Error
}

// audit 写审计行，失败只记日志，不影响请求.
func (s *ArchiveService) audit(ctx context.Context, row any) {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		nlog.Logger().Warn().Err(err).Msgf("failed to write %T", row)
	}
}

// auditUpdate 回填审计行.
func (s *ArchiveService) auditUpdate(ctx context.Context, row any, updates map[string]any) {
	if err := s.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		nlog.Logger().Warn().Err(err).Msgf("failed to update %T", row)
	}
}
