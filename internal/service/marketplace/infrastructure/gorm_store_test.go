package infrastructure

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	mysqlerr "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"rentbot/internal/service/marketplace/domain"
)

type stepKind int

const (
	kindQuery stepKind = iota
	kindExec
)

type queryStep struct {
	kind    stepKind
	pattern *regexp.Regexp
	// tailArgs 只校验最后几个参数，UPDATE 的 SET 部分随字段增减变化
	tailArgs []driver.Value
	columns  []string
	rows     [][]driver.Value
	err      error
	result   driver.Result
}

type scriptedDB struct {
	mu        sync.Mutex
	steps     []*queryStep
	commits   int
	rollbacks int
}

func (db *scriptedDB) next(kind stepKind, query string, args []driver.NamedValue) (*queryStep, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.steps) == 0 {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	step := db.steps[0]
	if step.kind != kind {
		return nil, fmt.Errorf("unexpected kind for query %s: got %v want %v", query, kind, step.kind)
	}
	if !step.pattern.MatchString(query) {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	if len(step.tailArgs) > len(args) {
		return nil, fmt.Errorf("unexpected arg count for %s: got %d want at least %d", query, len(args), len(step.tailArgs))
	}
	offset := len(args) - len(step.tailArgs)
	for i, want := range step.tailArgs {
		if got := args[offset+i].Value; got != want {
			return nil, fmt.Errorf("unexpected arg %d for %s: got %v want %v", offset+i, query, got, want)
		}
	}
	db.steps = db.steps[1:]
	return step, nil
}

func (db *scriptedDB) verifyComplete() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.steps) != 0 {
		return fmt.Errorf("unmet expectations: %d", len(db.steps))
	}
	return nil
}

type scriptedDriver struct {
	db *scriptedDB
}

func (d *scriptedDriver) Open(string) (driver.Conn, error) {
	return &scriptedConn{db: d.db}, nil
}

type scriptedConn struct {
	db *scriptedDB
}

func (c *scriptedConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *scriptedConn) Close() error { return nil }

func (c *scriptedConn) Begin() (driver.Tx, error) {
	return &scriptedTx{db: c.db}, nil
}

func (c *scriptedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	step, err := c.db.next(kindQuery, query, args)
	if err != nil {
		return nil, err
	}
	if step.err != nil {
		return nil, step.err
	}
	return &scriptedRows{columns: step.columns, rows: step.rows}, nil
}

func (c *scriptedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	step, err := c.db.next(kindExec, query, args)
	if err != nil {
		return nil, err
	}
	if step.err != nil {
		return nil, step.err
	}
	if step.result != nil {
		return step.result, nil
	}
	return scriptedResult{}, nil
}

type scriptedTx struct {
	db *scriptedDB
}

func (tx *scriptedTx) Commit() error {
	tx.db.mu.Lock()
	tx.db.commits++
	tx.db.mu.Unlock()
	return nil
}

func (tx *scriptedTx) Rollback() error {
	tx.db.mu.Lock()
	tx.db.rollbacks++
	tx.db.mu.Unlock()
	return nil
}

type scriptedResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r scriptedResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }

func (r scriptedResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type scriptedRows struct {
	columns []string
	rows    [][]driver.Value
	idx     int
}

func (r *scriptedRows) Columns() []string { return r.columns }

func (r *scriptedRows) Close() error { return nil }

func (r *scriptedRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.idx]
	for i := range dest {
		dest[i] = nil
	}
	for i := range row {
		dest[i] = row[i]
	}
	r.idx++
	return nil
}

func newScriptedGormDB(t *testing.T, steps []*queryStep) (*gorm.DB, *scriptedDB, func()) {
	t.Helper()
	state := &scriptedDB{steps: steps}
	driverName := fmt.Sprintf("scripted_%d", time.Now().UnixNano())
	sql.Register(driverName, &scriptedDriver{db: state})

	sqlDB, err := sql.Open(driverName, "")
	if err != nil {
		t.Fatalf("failed to open sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("failed to create gorm db: %v", err)
	}

	cleanup := func() {
		_ = sqlDB.Close()
	}
	return gormDB, state, cleanup
}

func pendingAd() *domain.Ad {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Ad{
		ID:          7,
		Title:       "Bike",
		Description: "City bike",
		Price:       100,
		Location:    "Center",
		ContactInfo: "@owner",
		Status:      domain.StatusPending,
		OwnerID:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSaveIfStatusIsConditionalOnExpectedStatus(t *testing.T) {
	updatePattern := regexp.MustCompile("UPDATE `ads` SET .* WHERE id = \\? AND status = \\?")

	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      error
	}{
		{name: "row still pending", rowsAffected: 1},
		{name: "status changed concurrently", rowsAffected: 0, wantErr: domain.ErrStatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			steps := []*queryStep{{
				kind:     kindExec,
				pattern:  updatePattern,
				tailArgs: []driver.Value{int64(7), "PENDING"},
				result:   scriptedResult{rowsAffected: tc.rowsAffected},
			}}
			db, state, cleanup := newScriptedGormDB(t, steps)
			defer cleanup()

			ad := pendingAd()
			if err := ad.Approve(42, ad.CreatedAt.Add(time.Minute)); err != nil {
				t.Fatalf("approve: %v", err)
			}
			err := NewGormStore(db).Ads().SaveIfStatus(context.Background(), ad, domain.StatusPending)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if err := state.verifyComplete(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestConflictRefinementsStayConflicts(t *testing.T) {
	if !errors.Is(domain.ErrStatusConflict, domain.ErrConflict) {
		t.Fatal("status conflict should be a conflict")
	}
	if !errors.Is(domain.ErrDuplicateEntry, domain.ErrConflict) {
		t.Fatal("duplicate entry should be a conflict")
	}
}

func TestEnqueueDuplicateMapsToDuplicateEntry(t *testing.T) {
	steps := []*queryStep{{
		kind:    kindExec,
		pattern: regexp.MustCompile("INSERT INTO `moderation_queue`"),
		err:     &mysqlerr.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'ad_id'"},
	}}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	entry := domain.NewQueueEntry(7, 1, time.Now())
	err := NewGormStore(db).Queue().Enqueue(context.Background(), entry)
	if !errors.Is(err, domain.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict class, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestFindByIDMissingRowIsNotFound(t *testing.T) {
	steps := []*queryStep{{
		kind:    kindQuery,
		pattern: regexp.MustCompile("SELECT \\* FROM `ads` WHERE id = \\?"),
		columns: []string{"id", "title"},
		rows:    [][]driver.Value{},
	}}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	_, err := NewGormStore(db).Ads().FindByID(context.Background(), 99)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkNotifiedClaimsOncePerAd(t *testing.T) {
	pattern := regexp.MustCompile("UPDATE `search_queries` SET `last_notified`=\\? WHERE .*last_notified IS NULL OR last_notified < \\?")
	adCreated := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{name: "advanced", rowsAffected: 1, want: true},
		{name: "already notified for this ad", rowsAffected: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			steps := []*queryStep{{
				kind:     kindExec,
				pattern:  pattern,
				tailArgs: []driver.Value{int64(3), adCreated},
				result:   scriptedResult{rowsAffected: tc.rowsAffected},
			}}
			db, state, cleanup := newScriptedGormDB(t, steps)
			defer cleanup()

			got, err := NewGormStore(db).Queries().MarkNotified(context.Background(), 3, adCreated, at)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if err := state.verifyComplete(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestAtomicRollsBackWhenCallbackFails(t *testing.T) {
	steps := []*queryStep{{
		kind:    kindExec,
		pattern: regexp.MustCompile("INSERT INTO `ads`"),
		result:  scriptedResult{lastInsertID: 5, rowsAffected: 1},
	}}
	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	boom := domain.NewValidationError("title", "boom")
	ad := pendingAd()
	ad.ID = 0
	err := NewGormStore(db).Atomic(context.Background(), func(tx domain.Store) error {
		if err := tx.Ads().Create(context.Background(), ad); err != nil {
			return err
		}
		return boom
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if ad.ID != 5 {
		t.Fatalf("expected id from insert, got %d", ad.ID)
	}
	if state.rollbacks != 1 || state.commits != 0 {
		t.Fatalf("expected one rollback and no commit, got rollbacks=%d commits=%d", state.rollbacks, state.commits)
	}
	if err := state.verifyComplete(); err != nil {
		t.Fatal(err)
	}
}

func TestMapErrorClassifiesDriverErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, want: domain.ErrNotFound},
		{name: "duplicate key", err: &mysqlerr.MySQLError{Number: 1062}, want: domain.ErrDuplicateEntry},
		{name: "bad connection", err: driver.ErrBadConn, want: domain.ErrTransientStore},
		{name: "invalid connection", err: mysqlerr.ErrInvalidConn, want: domain.ErrTransientStore},
		{name: "deadline", err: context.DeadlineExceeded, want: domain.ErrTransientStore},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError(tc.err, "op"); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if mapError(nil, "op") != nil {
		t.Fatal("nil should stay nil")
	}
}
