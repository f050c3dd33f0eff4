package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codec-bench/internal/results"
	"codec-bench/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// Submissions
// ============================================================================

func (s *Store) CreateSubmission(ctx context.Context, sub *results.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	_, err := s.col(ColSubmissions).InsertOne(ctx, sub)
	if err = classify(err); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		return &results.StoreError{Op: "create submission", Err: err}
	}
	return err
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*results.Submission, error) {
	sub, err := byID[results.Submission](ctx, s.col(ColSubmissions), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &results.StoreError{Op: "get submission", Err: err}
	}
	return sub, nil
}

// ============================================================================
// Results
// ============================================================================

func (s *Store) GetResult(ctx context.Context, id string) (*results.Result, error) {
	res, err := byID[results.Result](ctx, s.col(ColResults), id)
	if errors.Is(err, storage.ErrNotFound) {
		return &results.Result{SubmissionID: id, Status: results.StatusNone}, nil
	}
	if err != nil {
		return nil, &results.StoreError{Op: "get result", Err: err}
	}
	if res.Status == "" {
		res.Status = results.StatusNone
	}
	return res, nil
}

func (s *Store) ListEntries(ctx context.Context) ([]*results.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	subs, err := collect[results.Submission](ctx, s.col(ColSubmissions), bson.D{}, opts)
	if err != nil {
		return nil, &results.StoreError{Op: "list submissions", Err: err}
	}

	ids := make([]string, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	res, err := collect[results.Result](ctx, s.col(ColResults), idIn(ids))
	if err != nil {
		return nil, &results.StoreError{Op: "list results", Err: err}
	}
	byID := make(map[string]*results.Result, len(res))
	for _, r := range res {
		byID[r.SubmissionID] = r
	}

	entries := make([]*results.Entry, 0, len(subs))
	for _, sub := range subs {
		e := &results.Entry{Submission: *sub, Result: results.Result{SubmissionID: sub.ID, Status: results.StatusNone}}
		if r, ok := byID[sub.ID]; ok {
			e.Result = *r
			if e.Result.Status == "" {
				e.Result.Status = results.StatusNone
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// SetMetric 单字段 upsert：$set 只写目标字段，$setOnInsert 初始化状态
func (s *Store) SetMetric(ctx context.Context, id string, field results.Field, value float64) error {
	if !field.Valid() {
		return fmt.Errorf("unknown result field %q", field)
	}
	var v any
	if p := results.StorableValue(value); p != nil {
		v = *p
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: string(field), Value: v},
			{Key: "updated_at", Value: time.Now().UTC()},
		}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "status", Value: results.StatusNone}}},
	}
	opts := options.UpdateOne().SetUpsert(true)
	if _, err := s.col(ColResults).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update, opts); err != nil {
		return &results.StoreError{Op: "set " + string(field), Err: classify(err)}
	}
	return nil
}

// Transition 条件迁移：filter 限定当前状态在允许集合内
func (s *Store) Transition(ctx context.Context, id string, to results.Status, errMsg string) error {
	allowed := results.AllowedFrom(to)
	if len(allowed) == 0 {
		return &results.TransitionError{SubmissionID: id, From: "*", To: to}
	}
	var errVal any
	if to == results.StatusFailed {
		errVal = errMsg
	}
	now := time.Now().UTC()

	from := make(bson.A, 0, len(allowed))
	for _, st := range allowed {
		from = append(from, st)
	}
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: bson.D{{Key: "$in", Value: from}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: to},
		{Key: "error", Value: errVal},
		{Key: "updated_at", Value: now},
	}}}
	res, err := s.col(ColResults).UpdateOne(ctx, filter, update)
	if err != nil {
		return &results.StoreError{Op: "transition", Err: classify(err)}
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// 文档不存在时视为 none
	if results.CanTransition(results.StatusNone, to) {
		doc := bson.D{
			{Key: "_id", Value: id},
			{Key: "status", Value: to},
			{Key: "error", Value: errVal},
			{Key: "updated_at", Value: now},
		}
		_, err := s.col(ColResults).InsertOne(ctx, doc)
		if err = classify(err); err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return &results.StoreError{Op: "transition", Err: err}
		}
	}

	current, err := s.GetResult(ctx, id)
	if err != nil {
		return err
	}
	return &results.TransitionError{SubmissionID: id, From: current.Status, To: to}
}
