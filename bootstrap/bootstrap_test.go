package bootstrap

import (
	"testing"

	"github.com/ceyewan/genesis/clog"
	"github.com/stretchr/testify/assert"
)

func TestSeed_NoUsers(t *testing.T) {
	// 未配置种子用户时不触碰数据库
	assert.NoError(t, Seed(nil, &SeedConfig{}, clog.Discard()))
}
