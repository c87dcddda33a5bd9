package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/genstudio/llm"
)

// CredentialRecord 凭据表
type CredentialRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Label        string `gorm:"size:100;uniqueIndex"` // 对外的凭据 ID
	Provider     string `gorm:"size:32;not null;index:idx_credential_provider"`
	APIKey       string `gorm:"size:500;not null"`
	SecretKey    string `gorm:"size:500"`
	BaseURL      string `gorm:"size:500"`
	IsActive     bool   `gorm:"default:false"`
	Enabled      bool   `gorm:"default:true"`
	Priority     int    `gorm:"default:100"` // 数字越小越优先
	RateLimitRPM int    `gorm:"default:0"`

	TotalRequests int64 `gorm:"default:0"`
	LastUsedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定表名
func (CredentialRecord) TableName() string { return "provider_credentials" }

// toCredential 转换为 llm.Credential；Label 为空时用主键生成 ID。
func (r CredentialRecord) toCredential() llm.Credential {
	id := r.Label
	if id == "" {
		id = fmt.Sprintf("db-%d", r.ID)
	}
	return llm.Credential{
		ID:           id,
		Provider:     llm.ParseProviderKind(r.Provider),
		Key:          r.APIKey,
		Secret:       r.SecretKey,
		BaseURL:      r.BaseURL,
		IsActive:     r.IsActive,
		RateLimitRPM: r.RateLimitRPM,
	}
}

// DBConfig 凭据库连接参数
type DBConfig struct {
	Driver          string // postgres, mysql, sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenDB 按驱动打开凭据库并执行迁移。
func OpenDB(cfg DBConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("credential database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate 自动迁移凭据表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&CredentialRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// LoadFromDB 读取启用的凭据，按 provider、priority 排序。
func LoadFromDB(ctx context.Context, db *gorm.DB) ([]llm.Credential, error) {
	var records []CredentialRecord
	err := db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("provider ASC, priority ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load credentials from database: %w", err)
	}
	out := make([]llm.Credential, 0, len(records))
	for _, r := range records {
		out = append(out, r.toCredential())
	}
	return out, nil
}

// FlushUsage 把 Store 中的累计用量写回数据库。
// 计数以增量方式累加，调用方应在同一 Store 上只 flush 一次（通常在进程退出前）。
func FlushUsage(ctx context.Context, db *gorm.DB, s *Store) error {
	now := time.Now()
	for _, st := range s.Stats() {
		if st.Usage == 0 {
			continue
		}
		err := db.WithContext(ctx).Model(&CredentialRecord{}).
			Where("label = ?", st.ID).
			Updates(map[string]any{
				"total_requests": gorm.Expr("total_requests + ?", st.Usage),
				"last_used_at":   now,
			}).Error
		if err != nil {
			return fmt.Errorf("flush usage for %s: %w", st.ID, err)
		}
	}
	return nil
}
