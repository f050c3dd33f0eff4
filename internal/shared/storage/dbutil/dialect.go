// Package dbutil SQL 方言抽象
//
// 结果库的 SQL 统一按 PostgreSQL 占位符（$1, $2）书写，执行前由 Dialect 改写。
package dbutil

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// DriverType 数据库驱动类型
type DriverType string

const (
	DriverPostgres DriverType = "postgres"
	DriverSQLite   DriverType = "sqlite"
)

// Dialect 数据库方言
type Dialect interface {
	DriverType() DriverType
	// Rebind 把 $N 占位符改写为目标驱动的格式
	Rebind(query string) string
	// Now 当前时间的 SQL 表达式
	Now() string
	// AutoMigrate 建表（幂等）
	AutoMigrate(db *sql.DB) error
}

var dollarRe = regexp.MustCompile(`\$\d+`)

// DollarToQuestion $N → ?，要求占位符按出现顺序编号且不重复
func DollarToQuestion(query string) string {
	return dollarRe.ReplaceAllString(query, "?")
}

// UpsertColumns 生成 ON CONFLICT 子句，冲突时只覆盖 cols 列
// 两种方言都支持 excluded 伪表
func UpsertColumns(key string, cols ...string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", key, strings.Join(sets, ", "))
}

// Placeholders 从 $start 开始的 n 个占位符，用于 IN (...)
func Placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
