package mongostore

import (
	"context"
	"errors"

	"codec-bench/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// classify 把驱动错误映射为 storage 领域错误，其余原样返回
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return storage.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return storage.ErrDuplicate
	}
	return err
}

// byID 按 _id 读取文档；不存在返回 storage.ErrNotFound
func byID[T any](ctx context.Context, col *mongo.Collection, id string) (*T, error) {
	var doc T
	if err := col.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return nil, classify(err)
	}
	return &doc, nil
}

// collect 把游标全部解码为切片
func collect[T any](ctx context.Context, col *mongo.Collection, filter bson.D, opts ...options.Lister[options.FindOptions]) ([]*T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, classify(err)
	}
	var docs []*T
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// idIn 构造 {_id: {$in: ids}} 过滤条件
func idIn(ids []string) bson.D {
	in := make(bson.A, 0, len(ids))
	for _, id := range ids {
		in = append(in, id)
	}
	return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: in}}}}
}
