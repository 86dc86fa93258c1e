// Package migrations 内嵌 SQL 迁移脚本, 供 database.Migrate 使用。
package migrations

import "embed"

// FS 按文件名排序执行的 *.sql 脚本。
//
//go:embed *.sql
var FS embed.FS
