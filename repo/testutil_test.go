package repo

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/hey/bootstrap"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage    = "postgres:17-alpine"
	pgDatabase = "hey_test"
	pgUser     = "hey"
	pgPassword = "hey123"
)

// 子表在前，TRUNCATE ... CASCADE 兜底
var testTables = []string{
	"t_message",
	"t_chat_participant",
	"t_chat",
	"t_user_contact",
	"t_user",
}

// pgHarness 整个包共享一个 PostgreSQL 容器与连接
type pgHarness struct {
	once      sync.Once
	err       error
	container testcontainers.Container
	conn      connector.PostgreSQLConnector
	database  db.DB
}

var harness pgHarness

func getTestLogger(_ *testing.T) clog.Logger {
	return clog.Discard()
}

// start 启动容器、建立连接并迁移表结构，只执行一次
func (h *pgHarness) start() error {
	h.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("启动 PostgreSQL Testcontainer panic: %v", r)
			}
		}()
		h.err = h.boot()
	})
	return h.err
}

func (h *pgHarness) boot() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        pgImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       pgDatabase,
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return fmt.Errorf("启动 PostgreSQL Testcontainer 失败: %w", err)
	}
	h.container = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("获取容器 host 失败: %w", err)
	}
	mapped, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("获取映射端口失败: %w", err)
	}
	port, err := strconv.Atoi(mapped.Port())
	if err != nil {
		return fmt.Errorf("解析端口失败: %w", err)
	}

	logger := clog.Discard()
	h.conn, err = connector.NewPostgreSQL(&connector.PostgreSQLConfig{
		Name:            "repo-test",
		Host:            host,
		Port:            port,
		Username:        pgUser,
		Password:        pgPassword,
		Database:        pgDatabase,
		SSLMode:         "disable",
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnectTimeout:  5 * time.Second,
		Timezone:        "UTC",
	}, connector.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("创建 PostgreSQL 连接器失败: %w", err)
	}

	// 容器端口就绪后数据库仍可能在初始化，重试连接
	var connErr error
	for i := 0; i < 20; i++ {
		if connErr = h.conn.Connect(ctx); connErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if connErr != nil {
		return fmt.Errorf("连接 PostgreSQL 失败: %w", connErr)
	}

	h.database, err = db.New(&db.Config{Driver: "postgresql"},
		db.WithPostgreSQLConnector(h.conn),
		db.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("创建 DB 组件失败: %w", err)
	}

	if err := bootstrap.Migrate(h.database.DB(ctx)); err != nil {
		return fmt.Errorf("迁移表结构失败: %w", err)
	}
	return nil
}

// truncate 清空所有业务表
func (h *pgHarness) truncate(t *testing.T) {
	stmt := "TRUNCATE TABLE " + strings.Join(testTables, ", ") + " CASCADE"
	if err := h.database.DB(context.Background()).Exec(stmt).Error; err != nil {
		t.Logf("警告：清理测试数据失败: %v", err)
	}
}

// stop 释放连接与容器
func (h *pgHarness) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if h.database != nil {
		_ = h.database.Close()
	}
	if h.conn != nil {
		_ = h.conn.Close()
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// dockerUnavailable Docker 不可用时跳过集成测试而不是失败
func dockerUnavailable(err error) bool {
	msg := err.Error()
	for _, s := range []string{"docker.sock", "rootless Docker not found", "Cannot connect to the Docker daemon", "panic"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// setupTestContext 返回一个清空过的数据库，以及测试结束时的清理函数
func setupTestContext(t *testing.T) (db.DB, func()) {
	t.Helper()

	if err := harness.start(); err != nil {
		if dockerUnavailable(err) {
			t.Skipf("跳过测试：%v", err)
		}
		t.Fatalf("数据库初始化失败: %v", err)
	}

	harness.truncate(t)
	return harness.database, func() { harness.truncate(t) }
}

func TestMain(m *testing.M) {
	code := m.Run()
	harness.stop()
	os.Exit(code)
}
