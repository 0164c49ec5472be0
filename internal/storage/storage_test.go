package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pushbridge/internal/schedule"
	logx "pushbridge/pkg/logx"
)

func record(id, owner string, next int64) schedule.Model {
	return schedule.Model{
		ID:             id,
		Kind:           schedule.KindInterval,
		Owner:          owner,
		NotificationID: 7,
		Payload:        json.RawMessage(`{"data":{"k":"v"},"owner":"` + owner + `"}`),
		Repeat:         true,
		IntervalMillis: 1000,
		NextFireAt:     next,
		CreatedAt:      1,
	}
}

var modelCmp = cmpopts.EquateEmpty()

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	for _, m := range []schedule.Model{
		record("c", "exp-a", 3000),
		record("b", "exp-a", 2000),
		record("a", "exp-b", 2000),
	} {
		if err := st.Put(ctx, m); err != nil {
			t.Fatalf("Put(%s): %v", m.ID, err)
		}
	}

	got, ok, err := st.Get(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("Get(b) ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(record("b", "exp-a", 2000), got, modelCmp); diff != "" {
		t.Fatalf("Get(b) mismatch (-want +got):\n%s", diff)
	}

	if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) ok=%v err=%v", ok, err)
	}

	list, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, ids); diff != "" {
		t.Fatalf("List order (-want +got):\n%s", diff)
	}

	// Overwrite reschedules.
	if err := st.Put(ctx, record("b", "exp-a", 9000)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, _, _ = st.Get(ctx, "b")
	if got.NextFireAt != 9000 {
		t.Fatalf("expected overwrite, next=%d", got.NextFireAt)
	}

	owned, err := st.ListByOwner(ctx, "exp-a")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(owned) != 2 || owned[0].ID != "c" || owned[1].ID != "b" {
		t.Fatalf("unexpected owner list: %+v", owned)
	}

	found, err := st.Remove(ctx, "a")
	if err != nil || !found {
		t.Fatalf("Remove(a) found=%v err=%v", found, err)
	}
	found, err = st.Remove(ctx, "a")
	if err != nil || found {
		t.Fatalf("second Remove(a) found=%v err=%v", found, err)
	}

	n, err := st.RemoveByOwner(ctx, "exp-a")
	if err != nil || n != 2 {
		t.Fatalf("RemoveByOwner n=%d err=%v", n, err)
	}
	list, _ = st.List(ctx)
	if len(list) != 0 {
		t.Fatalf("expected empty store, got %d", len(list))
	}
}

// exerciseOwnerChange overwrites a record under a new owner and checks the
// old owner no longer sees it.
func exerciseOwnerChange(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if err := st.Put(ctx, record("x", "owner-a", 1000)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, record("x", "owner-b", 2000)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	old, err := st.ListByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListByOwner(owner-a): %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("old owner still lists %+v", old)
	}
	n, err := st.RemoveByOwner(ctx, "owner-a")
	if err != nil || n != 0 {
		t.Fatalf("RemoveByOwner(owner-a) n=%d err=%v", n, err)
	}
	got, ok, err := st.Get(ctx, "x")
	if err != nil || !ok {
		t.Fatalf("Get(x) ok=%v err=%v", ok, err)
	}
	if got.Owner != "owner-b" || got.NextFireAt != 2000 {
		t.Fatalf("unexpected record after owner change: %+v", got)
	}
	owned, err := st.ListByOwner(ctx, "owner-b")
	if err != nil || len(owned) != 1 || owned[0].ID != "x" {
		t.Fatalf("ListByOwner(owner-b) = %+v err=%v", owned, err)
	}
	if n, err := st.RemoveByOwner(ctx, "owner-b"); err != nil || n != 1 {
		t.Fatalf("RemoveByOwner(owner-b) n=%d err=%v", n, err)
	}
}

func TestStoresMoveRecordBetweenOwners(t *testing.T) {
	mr := miniredis.RunT(t)
	backends := map[string]Config{
		"memory": {Driver: "memory"},
		"file":   {Driver: "file", Path: filepath.Join(t.TempDir(), "sched.db")},
		"sqlite": {Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sched.sqlite")},
		"redis":  {Driver: "redis", Redis: RedisConfig{Addr: mr.Addr(), Prefix: "move:"}},
	}
	for name, cfg := range backends {
		t.Run(name, func(t *testing.T) {
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseOwnerChange(t, st)
		})
	}
}

func TestMemoryStore(t *testing.T) {
	st := NewMemory()
	exerciseStore(t, st)
	_ = st.Close()
	if err := st.Put(context.Background(), record("x", "o", 1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFileStore(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "sched.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := st.Put(ctx, record(id, "exp", 1000)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if _, err := st.Remove(ctx, "b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Simulate a crash: the journal is left uncompacted.
	fs := st.(*fileStore)
	_ = fs.journal.Close()

	st2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	list, err := st2.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "c" {
		t.Fatalf("unexpected records after restart: %+v", list)
	}
}

func TestFileStoreIgnoresTornJournalTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sched.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Put(ctx, record("a", "exp", 1000)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = st.(*fileStore).journal.Close()

	jf, err := os.OpenFile(filepath.Join(dir, "sched.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = jf.WriteString(`{"op":"put","record":{"id":"b","ki`)
	_ = jf.Close()

	st2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list, _ := st2.List(ctx)
	if len(list) != 1 || list[0].ID != "a" {
		t.Fatalf("unexpected records: %+v", list)
	}

	// The torn tail is cut on open, so later appends stay readable.
	if err := st2.Put(ctx, record("c", "exp", 3000)); err != nil {
		t.Fatalf("Put(c): %v", err)
	}
	_ = st2.(*fileStore).journal.Close()

	st3, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("second reopen: %v", err)
	}
	defer st3.Close()
	list, _ = st3.List(ctx)
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "c" {
		t.Fatalf("unexpected records after second restart: %+v", list)
	}
}

func TestFileStoreDropsFragmentBeforeNextAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Put(ctx, record("a", "exp", 1000)); err != nil {
		t.Fatalf("Put(a): %v", err)
	}
	// Leave what an interrupted write would: an unterminated line.
	fs := st.(*fileStore)
	if _, err := fs.journal.Write([]byte(`{"op":"put","record":{"id":"z"`)); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
	if err := st.Put(ctx, record("b", "exp", 2000)); err != nil {
		t.Fatalf("Put(b): %v", err)
	}
	_ = fs.journal.Close()

	st2, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	list, err := st2.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected records after restart: %+v", list)
	}
}

func TestFileStoreCompacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sched.db")
	ctx := context.Background()

	st, err := Open(Config{Path: path, CompactEvery: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	_ = st.Put(ctx, record("a", "exp", 1000))
	_ = st.Put(ctx, record("b", "exp", 1000))

	info, err := os.Stat(filepath.Join(dir, "sched.journal.jsonl"))
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected truncated journal, size=%d", info.Size())
	}
	if _, err := os.Stat(filepath.Join(dir, "sched.snapshot.json")); err != nil {
		t.Fatalf("expected snapshot: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			st, err := Open(Config{
				Driver: "sqlite",
				Path:   filepath.Join(t.TempDir(), "sched.sqlite"),
				Codec:  codec,
			}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseStore(t, st)
		})
	}
}

func TestRedisStore(t *testing.T) {
	for _, codec := range []string{"json", "msgpack"} {
		t.Run(codec, func(t *testing.T) {
			mr := miniredis.RunT(t)
			st, err := Open(Config{
				Driver: "redis",
				Codec:  codec,
				Redis:  RedisConfig{Addr: mr.Addr()},
			}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseStore(t, st)
			if mr.Exists("pushbridge:owner:exp-a") {
				t.Fatalf("owner set left behind after RemoveByOwner")
			}
		})
	}
}

func TestRedisStoreIgnoresStaleOwnerSetEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr()}}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.Put(ctx, record("b", "exp-a", 2000)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// An index entry pointing at a record now owned by someone else.
	if _, err := mr.SAdd("pushbridge:owner:ghost", "b", "gone"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}

	owned, err := st.ListByOwner(ctx, "ghost")
	if err != nil || len(owned) != 0 {
		t.Fatalf("ListByOwner(ghost) = %+v err=%v", owned, err)
	}
	n, err := st.RemoveByOwner(ctx, "ghost")
	if err != nil || n != 0 {
		t.Fatalf("RemoveByOwner(ghost) n=%d err=%v", n, err)
	}
	if _, ok, err := st.Get(ctx, "b"); err != nil || !ok {
		t.Fatalf("Get(b) ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreRejectsUseAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr()}}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	if err := st.Put(context.Background(), record("x", "o", 1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown driver", cfg: Config{Driver: "etcd"}},
		{name: "file without path", cfg: Config{Driver: "file"}},
		{name: "sqlite without path", cfg: Config{Driver: "sqlite"}},
		{name: "postgres without dsn", cfg: Config{Driver: "postgres"}},
		{name: "redis without addr", cfg: Config{Driver: "redis"}},
		{name: "unknown codec", cfg: Config{Driver: "memory", Codec: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.cfg, logx.Nop()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCodecsPreservePayload(t *testing.T) {
	m := record("a", "exp", 1000)
	m.Kind = schedule.KindCalendar
	m.CronExpression = "0 9 * * *"
	m.IntervalMillis = 0
	for _, name := range []string{"json", "msgpack"} {
		c, err := CodecByName(name)
		if err != nil {
			t.Fatalf("CodecByName(%s): %v", name, err)
		}
		b, err := c.Marshal(m)
		if err != nil {
			t.Fatalf("%s marshal: %v", name, err)
		}
		var got schedule.Model
		if err := c.Unmarshal(b, &got); err != nil {
			t.Fatalf("%s unmarshal: %v", name, err)
		}
		if diff := cmp.Diff(m, got, modelCmp); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", name, diff)
		}
	}
}
