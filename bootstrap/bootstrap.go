// Package bootstrap 提供数据库初始化能力：AutoMigrate 建表 + Seed 种子数据。
// 通过 `go run main.go -module migrate` 调用，幂等可重复执行。
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/hey/gateway/auth"
	"github.com/ceyewan/hey/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LobbyChatID 种子群聊的固定 ID
const LobbyChatID = "lobby"

// Config 初始化所需的配置（复用 gateway.yaml）
type Config struct {
	Log      clog.Config                `mapstructure:"log"`
	Postgres connector.PostgreSQLConfig `mapstructure:"postgres"`
	Seed     SeedConfig                 `mapstructure:"seed"`
}

// SeedConfig 种子数据配置
type SeedConfig struct {
	Users []SeedUser `mapstructure:"users"`
}

// SeedUser 种子用户
type SeedUser struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// Run 执行数据库初始化：建表 + 种子数据
func Run() error {
	// 1. 加载配置（复用 gateway.yaml）
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. 初始化日志
	logger, err := clog.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}

	logger.Info("starting database initialization...")

	// 3. 连接 PostgreSQL
	postgresConn, err := connector.NewPostgreSQL(&cfg.Postgres, connector.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("postgresql connector: %w", err)
	}
	defer postgresConn.Close()

	ctx := context.Background()
	if err := postgresConn.Connect(ctx); err != nil {
		return fmt.Errorf("postgresql connect: %w", err)
	}

	dbInstance, err := db.New(&db.Config{Driver: "postgresql"}, db.WithPostgreSQLConnector(postgresConn), db.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	defer dbInstance.Close()

	gormDB := dbInstance.DB(ctx)

	// 4. AutoMigrate 建表 + 索引
	logger.Info("running AutoMigrate...")
	if err := Migrate(gormDB); err != nil {
		return err
	}
	logger.Info("AutoMigrate completed")

	// 5. Seed 种子数据
	logger.Info("seeding initial data...")
	if err := Seed(gormDB, &cfg.Seed, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Info("database initialization finished successfully")
	return nil
}

// Migrate 创建/更新所有表
func Migrate(gormDB *gorm.DB) error {
	if err := gormDB.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Seed 插入种子用户，并把他们加入大厅群聊（幂等）
func Seed(gormDB *gorm.DB, seedCfg *SeedConfig, logger clog.Logger) error {
	if len(seedCfg.Users) == 0 {
		logger.Info("seed skipped: no users in config")
		return nil
	}

	return gormDB.Transaction(func(tx *gorm.DB) error {
		// 1. 大厅群聊
		lobby := &model.Chat{ID: LobbyChatID, Name: "Hey Lobby", IsGroupChat: true}
		if err := tx.Where("id = ?", lobby.ID).FirstOrCreate(lobby).Error; err != nil {
			return fmt.Errorf("seed lobby chat: %w", err)
		}

		// 2. 用户与成员关系
		for _, su := range seedCfg.Users {
			if su.Username == "" || su.Email == "" || su.Password == "" {
				logger.Warn("seed user skipped: missing username, email or password",
					clog.String("username", su.Username))
				continue
			}

			hash, err := auth.HashPassword(su.Password)
			if err != nil {
				return err
			}
			user := &model.User{
				ID:           uuid.NewString(),
				Username:     strings.ToLower(su.Username),
				Email:        strings.ToLower(su.Email),
				PasswordHash: hash,
			}
			if err := tx.Where("email = ?", user.Email).FirstOrCreate(user).Error; err != nil {
				return fmt.Errorf("seed user %s: %w", user.Username, err)
			}

			member := &model.ChatParticipant{ChatID: lobby.ID, UserID: user.ID}
			if err := tx.Where("chat_id = ? AND user_id = ?", member.ChatID, member.UserID).FirstOrCreate(member).Error; err != nil {
				return fmt.Errorf("seed lobby member %s: %w", user.Username, err)
			}
			logger.Info("seed user ready", clog.String("username", user.Username), clog.String("user_id", user.ID))
		}
		return nil
	})
}

// loadConfig 加载配置（复用 gateway.yaml）
func loadConfig() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "gateway",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "HEY",
	})
	if err != nil {
		return nil, err
	}

	if err := loader.Load(context.Background()); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
