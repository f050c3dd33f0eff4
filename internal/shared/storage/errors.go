// Package storage 结果库驱动共用的领域错误
//
// sqlstore 与 mongostore 把各自驱动的错误（sql.ErrNoRows、mongo.ErrNoDocuments、
// 唯一键冲突）转换为这里的错误，调用方只需 errors.Is。
package storage

import "errors"

var (
	// ErrNotFound submission 不存在
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate 重复的 submission id
	ErrDuplicate = errors.New("duplicate: entity already exists")
)
