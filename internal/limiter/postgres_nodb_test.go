package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

/************ fake pgx ************/
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	qrErr   error
	cur     int
	prev    int
	args    []any
	lastSQL string

	execErr  error
	execRows int64
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.lastSQL = sql
	return pgconn.NewCommandTag("DELETE " + itoa(f.execRows)), f.execErr
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL = sql
	f.args = args
	if !strings.Contains(sql, "INSERT INTO rate_limits") {
		return fakeRow{scan: func(dest ...any) error { return errors.New("unexpected query") }}
	}
	return fakeRow{scan: func(dest ...any) error {
		if f.qrErr != nil {
			return f.qrErr
		}
		*(dest[0].(*int)) = f.cur
		*(dest[1].(*int)) = f.prev
		return nil
	}}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func fixedPG(fp *fakePool, now time.Time) *PG {
	l := NewPGWithQuerier(fp)
	l.now = func() time.Time { return now }
	return l
}

func TestPG_Allow_UnderQuota(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	fp := &fakePool{cur: 3}
	l := fixedPG(fp, now)

	d, err := l.Allow(context.Background(), "k", Quota{Limit: 10, Window: time.Minute})
	if err != nil || !d.Allowed || d.Remaining != 7 {
		t.Fatalf("Allow: %+v err=%v", d, err)
	}
	if ws := fp.args[1].(time.Time); !ws.Equal(now.Truncate(time.Minute)) {
		t.Fatalf("window start=%v", ws)
	}
	if prev := fp.args[2].(time.Time); !prev.Equal(now.Truncate(time.Minute).Add(-time.Minute)) {
		t.Fatalf("prev window start=%v", prev)
	}
}

func TestPG_Allow_PreviousWindowWeighs(t *testing.T) {
	// halfway through the window, 10 previous hits weigh 5
	now := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	fp := &fakePool{cur: 6, prev: 10}
	l := fixedPG(fp, now)

	d, err := l.Allow(context.Background(), "k", Quota{Limit: 10, Window: time.Minute})
	if err != nil || d.Allowed {
		t.Fatalf("want denied: %+v err=%v", d, err)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 30*time.Second {
		t.Fatalf("retry after=%v", d.RetryAfter)
	}
}

func TestPG_Allow_DBError_Propagates(t *testing.T) {
	fp := &fakePool{qrErr: errors.New("db boom")}
	l := NewPGWithQuerier(fp)

	if _, err := l.Allow(context.Background(), "k", Quota{Limit: 1, Window: time.Minute}); err == nil {
		t.Fatalf("want error propagate")
	}
}

func TestPG_Prune(t *testing.T) {
	fp := &fakePool{execRows: 4}
	l := NewPGWithQuerier(fp)

	n, err := l.Prune(context.Background(), time.Hour)
	if err != nil || n != 4 {
		t.Fatalf("prune n=%d err=%v", n, err)
	}
	if !strings.Contains(fp.lastSQL, "DELETE FROM rate_limits") {
		t.Fatalf("unexpected exec: %s", fp.lastSQL)
	}
}
