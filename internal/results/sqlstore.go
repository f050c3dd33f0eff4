package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"codec-bench/internal/shared/storage"
	"codec-bench/internal/shared/storage/dbutil"
)

// SQLStore 基于 database/sql 的结果库
// 所有 SQL 以 PostgreSQL 风格编写，运行时由 Dialect.Rebind() 转换
type SQLStore struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 创建结果库
func NewSQLStore(db *sql.DB, dialect dbutil.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close 关闭数据库连接
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	return s.dialect.Rebind(query)
}

func (s *SQLStore) now() string {
	return s.dialect.Now()
}

func (s *SQLStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO submissions (submission_id, email, name, submission_name, created_at)
		VALUES ($1, $2, $3, $4, $5)`)
	_, err := s.db.ExecContext(ctx, query, sub.ID, sub.Email, sub.Name, sub.SubmissionName, sub.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return storeErr("create submission", err)
	}
	return nil
}

func (s *SQLStore) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	query := s.rebind(`SELECT submission_id, email, name, submission_name, created_at
		FROM submissions WHERE submission_id = $1`)
	var sub Submission
	var created any
	err := s.db.QueryRowContext(ctx, query, id).Scan(&sub.ID, &sub.Email, &sub.Name, &sub.SubmissionName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get submission", err)
	}
	sub.CreatedAt = scanTime(created)
	return &sub, nil
}

const resultColumns = `encoding_runtime, decoding_runtime, ratio, accuracy,
	peptide_percent_preserved, peptide_percent_missed, peptide_percent_new, status, error, updated_at`

// resultScan 扫描 resultColumns 的中间变量
type resultScan struct {
	metrics [7]sql.NullFloat64
	status  sql.NullString
	errMsg  sql.NullString
	updated any
}

func (r *resultScan) dest() []any {
	d := make([]any, 0, 10)
	for i := range r.metrics {
		d = append(d, &r.metrics[i])
	}
	return append(d, &r.status, &r.errMsg, &r.updated)
}

func (r *resultScan) into(res *Result) {
	targets := []**float64{
		&res.EncodingRuntime, &res.DecodingRuntime, &res.Ratio, &res.Accuracy,
		&res.PeptidePreserved, &res.PeptideMissed, &res.PeptideNew,
	}
	for i, t := range targets {
		if r.metrics[i].Valid {
			v := r.metrics[i].Float64
			*t = &v
		}
	}
	res.Status, _ = ParseStatus(r.status.String)
	res.Error = r.errMsg.String
	res.UpdatedAt = scanTime(r.updated)
}

func (s *SQLStore) GetResult(ctx context.Context, id string) (*Result, error) {
	query := s.rebind(`SELECT ` + resultColumns + ` FROM results WHERE submission_id = $1`)
	var scan resultScan
	err := s.db.QueryRowContext(ctx, query, id).Scan(scan.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return &Result{SubmissionID: id, Status: StatusNone}, nil
	}
	if err != nil {
		return nil, storeErr("get result", err)
	}
	res := &Result{SubmissionID: id}
	scan.into(res)
	return res, nil
}

func (s *SQLStore) ListEntries(ctx context.Context) ([]*Entry, error) {
	cols := strings.ReplaceAll(resultColumns, "\n\t", " ")
	var qualified []string
	for _, c := range strings.Split(cols, ",") {
		qualified = append(qualified, "r."+strings.TrimSpace(c))
	}
	query := `SELECT s.submission_id, s.email, s.name, s.submission_name, s.created_at, ` +
		strings.Join(qualified, ", ") + `
		FROM submissions s LEFT JOIN results r ON r.submission_id = s.submission_id
		ORDER BY s.created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, storeErr("list results", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var e Entry
		var created any
		var scan resultScan
		dest := append([]any{&e.ID, &e.Email, &e.Name, &e.SubmissionName, &created}, scan.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, storeErr("scan result", err)
		}
		e.CreatedAt = scanTime(created)
		e.Result.SubmissionID = e.ID
		scan.into(&e.Result)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list results", err)
	}
	return entries, nil
}

// SetMetric 单列 upsert，不会覆盖其他列
func (s *SQLStore) SetMetric(ctx context.Context, id string, field Field, value float64) error {
	if !field.Valid() {
		return fmt.Errorf("unknown result field %q", field)
	}
	col := string(field)
	query := fmt.Sprintf(`INSERT INTO results (submission_id, %s, status, updated_at) VALUES ($1, $2, $3, %s) %s`,
		col, s.now(), dbutil.UpsertColumns("submission_id", col, "updated_at"))

	var v any
	if p := StorableValue(value); p != nil {
		v = *p
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), id, v, string(StatusNone)); err != nil {
		return storeErr("set "+col, err)
	}
	return nil
}

// Transition 在事务内执行条件迁移，失败时回滚
func (s *SQLStore) Transition(ctx context.Context, id string, to Status, errMsg string) (err error) {
	allowed := AllowedFrom(to)
	if len(allowed) == 0 {
		return &TransitionError{SubmissionID: id, From: "*", To: to}
	}
	var errVal any
	if to == StatusFailed {
		errVal = errMsg
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Printf("[ResultStore] rollback failed: %v", rbErr)
			}
		}
	}()

	// 条件更新：仅当当前状态在允许的来源集合中
	args := []any{string(to), errVal, id}
	for _, st := range allowed {
		args = append(args, string(st))
	}
	update := fmt.Sprintf(`UPDATE results SET status = $1, error = $2, updated_at = %s
		WHERE submission_id = $3 AND status IN (%s)`, s.now(), dbutil.Placeholders(4, len(allowed)))
	res, err := tx.ExecContext(ctx, s.rebind(update), args...)
	if err != nil {
		return storeErr("transition", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return s.commit(tx)
	}

	// 行不存在时视为 none
	if CanTransition(StatusNone, to) {
		insert := fmt.Sprintf(`INSERT INTO results (submission_id, status, error, updated_at)
			VALUES ($1, $2, $3, %s) ON CONFLICT (submission_id) DO NOTHING`, s.now())
		res, err := tx.ExecContext(ctx, s.rebind(insert), id, string(to), errVal)
		if err != nil {
			return storeErr("transition", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return s.commit(tx)
		}
	}

	var current sql.NullString
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM results WHERE submission_id = $1`), id).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storeErr("transition", err)
	}
	from, _ := ParseStatus(current.String)
	err = &TransitionError{SubmissionID: id, From: from, To: to}
	return err
}

func (s *SQLStore) commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// scanTime 兼容不同驱动返回的时间类型
func scanTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
