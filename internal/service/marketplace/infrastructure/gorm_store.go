package infrastructure

import (
	"context"
	"database/sql/driver"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

const mysqlDuplicateEntry = 1062

// GormStore 是 domain.Store 的 GORM 实现。
// 同一个结构体既可以包装连接池，也可以包装事务句柄。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建一个新的 GORM 存储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Ads() domain.AdRepository { return NewGormAdRepository(s.db) }

func (s *GormStore) Queue() domain.ModerationQueueRepository {
	return NewGormQueueRepository(s.db)
}

func (s *GormStore) Queries() domain.SearchQueryRepository {
	return NewGormSearchQueryRepository(s.db)
}

func (s *GormStore) Notifications() domain.NotificationRepository {
	return NewGormNotificationRepository(s.db)
}

func (s *GormStore) Users() domain.UserRepository { return NewGormUserRepository(s.db) }

func (s *GormStore) Messages() domain.MessageRepository { return NewGormMessageRepository(s.db) }

func (s *GormStore) Feedback() domain.FeedbackRepository { return NewGormFeedbackRepository(s.db) }

func (s *GormStore) Categories() domain.CategoryRepository {
	return &GormCategoryRepository{db: s.db}
}

// Atomic 在数据库事务中执行 fn；fn 返回错误或 panic 时整体回滚
func (s *GormStore) Atomic(ctx context.Context, fn func(tx domain.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
	if err == nil {
		return nil
	}
	// fn 返回的领域错误原样透传，只对驱动层错误做映射
	if isDomainError(err) {
		return err
	}
	return mapError(err, "transaction")
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return mapError(sqlDB.PingContext(ctx), "ping")
}

// AutoMigrate 创建或更新所有表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

// mapError 把驱动错误翻译成领域错误
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrap(domain.ErrNotFound, op)
	case isDuplicate(err):
		return errors.Wrap(domain.ErrDuplicateEntry, op)
	case isTransient(err):
		return errors.Wrapf(domain.ErrTransientStore, "%s: %v", op, err)
	}
	return errors.Wrap(err, op)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrTransientStore) ||
		domain.IsValidation(err)
}

// limitOrAll 把非正数换成 -1，gorm 对 -1 不生成 LIMIT 子句
func limitOrAll(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
