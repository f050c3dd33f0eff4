// Package mongostore MongoDB 结果库
//
// submissions 与 results 两个集合，_id 均为 submission id。
// 指标写入是 $set + $setOnInsert 的单字段 upsert；状态迁移是 status 带 $in 条件的 UpdateOne。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"codec-bench/internal/results"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	ColSubmissions = "submissions"
	ColResults     = "results"
)

const connectTimeout = 10 * time.Second

// Store results.Store 的 MongoDB 实现
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ results.Store = (*Store)(nil)

// NewStore 连接 uri 并使用 dbName 数据库，连接后确保索引存在
func NewStore(uri, dbName string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("[MongoStore] WARNING: ensure indexes: %v", err)
	}
	log.Printf("[MongoStore] Connected, database=%s", dbName)
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 列表按提交时间倒序，排名按状态过滤
func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.col(ColSubmissions).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("%s: %w", ColSubmissions, err)
	}
	if _, err := s.col(ColResults).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("%s: %w", ColResults, err)
	}
	return nil
}
