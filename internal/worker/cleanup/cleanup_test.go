package cleanup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/famledger/internal/metrics"
)

type fakeResult struct {
	rowsAffected int64
}

func (r *fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r *fakeResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

// Executor インターフェースに対するモック実装
type mockExecutor struct {
	mu     sync.Mutex
	calls  int
	query  string
	args   []interface{}
	result sql.Result
	err    error
}

var _ Executor = (*mockExecutor)(nil)

func (m *mockExecutor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.query = query
	m.args = args
	return m.result, m.err
}

func (m *mockExecutor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockCleanupRecorder struct {
	mu     sync.Mutex
	purged []int64
}

var _ metrics.CleanupRecorder = (*mockCleanupRecorder)(nil)

func (m *mockCleanupRecorder) RecordSessionsPurged(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, n)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はkeyを持つ最初のログエントリを返す。
func findLogEntry(buf *bytes.Buffer, key string) map[string]interface{} {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJob(mock *mockExecutor, buf *bytes.Buffer, rec *mockCleanupRecorder) *SessionCleanupJob {
	job := NewSessionCleanupJob(mock, newTestLogger(buf), rec)
	job.now = func() time.Time { return fixedNow }
	return job
}

func TestNewSessionCleanupJob_Defaults(t *testing.T) {
	job := NewSessionCleanupJob(&mockExecutor{}, slog.Default(), nil)

	if job.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", job.RetentionDays)
	}
	if job.recorder == nil {
		t.Error("nil recorder should be replaced with a no-op recorder")
	}
}

func TestSessionCleanupJob_Run_DeletesOnlyStaleSessions(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 5}}
	job := newTestJob(mock, &buf, &mockCleanupRecorder{})

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() がエラーを返した: %v", err)
	}

	if mock.callCount() != 1 {
		t.Fatalf("ExecContext calls = %d, want 1", mock.callCount())
	}
	if !strings.Contains(mock.query, "DELETE FROM sessions") {
		t.Errorf("クエリに 'DELETE FROM sessions' が含まれていない: %s", mock.query)
	}
	// 期限切れか失効済みのどちらかの条件でのみ削除する
	for _, cond := range []string{"expires_at < $1", "revoked_at IS NOT NULL AND revoked_at < $1"} {
		if !strings.Contains(mock.query, cond) {
			t.Errorf("クエリに条件 %q が含まれていない: %s", cond, mock.query)
		}
	}
}

func TestSessionCleanupJob_Run_PassesCutoff(t *testing.T) {
	tests := []struct {
		name          string
		retentionDays int
		want          time.Time
	}{
		{"デフォルト30日", 30, fixedNow.AddDate(0, 0, -30)},
		{"カスタム7日", 7, fixedNow.AddDate(0, 0, -7)},
		{"0日は現在時刻", 0, fixedNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			mock := &mockExecutor{result: &fakeResult{}}
			job := newTestJob(mock, &buf, &mockCleanupRecorder{})
			job.RetentionDays = tt.retentionDays

			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run() error: %v", err)
			}

			if len(mock.args) != 1 {
				t.Fatalf("args = %v, want 1 arg", mock.args)
			}
			cutoff, ok := mock.args[0].(time.Time)
			if !ok {
				t.Fatalf("第1引数が time.Time ではない: %T", mock.args[0])
			}
			if !cutoff.Equal(tt.want) {
				t.Errorf("cutoff = %v, want %v", cutoff, tt.want)
			}
		})
	}
}

func TestSessionCleanupJob_Run_RecordsAndLogsDeletedCount(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockCleanupRecorder{}
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 42}}
	job := newTestJob(mock, &buf, rec)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(rec.purged) != 1 || rec.purged[0] != 42 {
		t.Errorf("recorded purged = %v, want [42]", rec.purged)
	}

	entry := findLogEntry(&buf, "deleted_count")
	if entry == nil {
		t.Fatalf("ログに deleted_count が記録されていない。ログ出力: %s", buf.String())
	}
	if entry["deleted_count"] != float64(42) {
		t.Errorf("deleted_count = %v, want 42", entry["deleted_count"])
	}
	if entry["retention_days"] != float64(30) {
		t.Errorf("retention_days = %v, want 30", entry["retention_days"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("ログに duration_ms が記録されていない")
	}
}

func TestSessionCleanupJob_Run_DBFailure(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockCleanupRecorder{}
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := newTestJob(mock, &buf, rec)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("DBエラー時に Run() は nil でないエラーを返すべき")
	}
	if !strings.Contains(err.Error(), "sql: connection is already closed") {
		t.Errorf("エラーメッセージが期待と異なる: %v", err)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
	if len(rec.purged) != 0 {
		t.Errorf("失敗時は削除件数を記録しない: %v", rec.purged)
	}
}

func TestSessionCleanupJob_Run_Idempotent_ZeroRows(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{rowsAffected: 0}}
	job := newTestJob(mock, &buf, &mockCleanupRecorder{})

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}

	if entry := findLogEntry(&buf, "deleted_count"); entry == nil || entry["deleted_count"] != float64(0) {
		t.Errorf("0件削除時にもログに deleted_count=0 が記録されるべき。ログ出力: %s", buf.String())
	}
}

func TestSessionCleanupJob_Start_RunsImmediatelyAndOnTick(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{result: &fakeResult{}}
	job := newTestJob(mock, &buf, &mockCleanupRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mock.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", mock.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestSessionCleanupJob_Start_ContinuesAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	mock := &mockExecutor{err: sql.ErrConnDone}
	job := newTestJob(mock, &buf, &mockCleanupRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx, 10*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for mock.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job should keep running after a failed run, calls = %d", mock.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
