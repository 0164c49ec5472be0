package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pushbridge/internal/schedule"
	logx "pushbridge/pkg/logx"
)

const defaultCompactEvery = 256

// fileStore keeps all records in memory and persists them to disk.
//
// Files:
//   - <prefix>.snapshot.json (full record set, replaced atomically)
//   - <prefix>.journal.jsonl (append-only put/del operations since the snapshot)
//
// Every journal append is fsynced before the call returns. The journal is
// compacted into the snapshot every CompactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	records      map[string]schedule.Model

	// end is the journal length covered by acknowledged appends.
	end int64
	// failed is set when an uncommitted tail could not be cut off.
	failed error

	writes       int
	compactEvery int
}

type journalOp struct {
	Op     string          `json:"op"` // put | del
	ID     string          `json:"id,omitempty"`
	Record *schedule.Model `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	records := map[string]schedule.Model{}
	if err := loadSnapshot(snapPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, end, err := replayJournal(journalPath, records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := jf.Truncate(end); err != nil {
		_ = jf.Close()
		return nil, fmt.Errorf("cut torn journal tail: %w", err)
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		records:      records,
		compactEvery: every,
		end:          end,
	}
	if n > 0 {
		// Fold the replayed journal (and any torn tail) into a fresh snapshot.
		s.mu.Lock()
		err := s.compactLocked()
		s.mu.Unlock()
		if err != nil {
			log.Warn("schedule journal compact failed", logx.Err(err))
		}
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("records", len(records)))
	return s, nil
}

func (s *fileStore) Put(ctx context.Context, m schedule.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	cp := m.Clone()
	if err := s.appendLocked(journalOp{Op: "put", Record: &cp}); err != nil {
		return err
	}
	s.records[m.ID] = cp
	return nil
}

func (s *fileStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalOp{Op: "del", ID: id}); err != nil {
		return false, err
	}
	delete(s.records, id)
	return true, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (schedule.Model, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return schedule.Model{}, false, ErrClosed
	}
	m, ok := s.records[id]
	return m.Clone(), ok, nil
}

func (s *fileStore) List(ctx context.Context) ([]schedule.Model, error) {
	return s.list("", false)
}

func (s *fileStore) ListByOwner(ctx context.Context, owner string) ([]schedule.Model, error) {
	return s.list(owner, true)
}

func (s *fileStore) list(owner string, byOwner bool) ([]schedule.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	out := make([]schedule.Model, 0, len(s.records))
	for _, m := range s.records {
		if byOwner && m.Owner != owner {
			continue
		}
		out = append(out, m.Clone())
	}
	sortModels(out)
	return out, nil
}

func (s *fileStore) RemoveByOwner(ctx context.Context, owner string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	n := 0
	for id, m := range s.records {
		if m.Owner != owner {
			continue
		}
		if err := s.appendLocked(journalOp{Op: "del", ID: id}); err != nil {
			return n, err
		}
		delete(s.records, id)
		n++
	}
	return n, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	if cerr != nil {
		s.log.Warn("schedule journal compact failed", logx.Err(cerr))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// appendLocked writes one op and fsyncs it. Bytes past s.end come from an
// append that was never acknowledged and are cut off first, so a new op
// always starts on its own line.
func (s *fileStore) appendLocked(op journalOp) error {
	if s.failed != nil {
		return fmt.Errorf("schedule journal unusable: %w", s.failed)
	}
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	cur, err := s.journal.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if cur != s.end {
		if err := s.rollbackLocked(); err != nil {
			return err
		}
	}
	if _, err := s.journal.Write(b); err != nil {
		return errors.Join(err, s.rollbackLocked())
	}
	if err := s.journal.Sync(); err != nil {
		return errors.Join(err, s.rollbackLocked())
	}
	s.end += int64(len(b))
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("schedule journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) rollbackLocked() error {
	if err := s.journal.Truncate(s.end); err != nil {
		s.failed = err
		s.log.Error("schedule journal rollback failed", logx.Err(err))
		return err
	}
	_, err := s.journal.Seek(s.end, io.SeekStart)
	return err
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	list := make([]schedule.Model, 0, len(s.records))
	for _, m := range s.records {
		list = append(list, m)
	}
	sortModels(list)
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.end = 0
	s.failed = nil
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]schedule.Model) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []schedule.Model
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for _, m := range list {
		if m.ID != "" {
			out[m.ID] = m
		}
	}
	return nil
}

// replayJournal applies journal ops in order. It returns how many lines it
// read and the offset just past the last newline-terminated line.
// Undecodable lines (a torn tail after a crash) are skipped.
func replayJournal(path string, out map[string]schedule.Model) (int, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	n := 0
	var end int64
	for sc.Scan() {
		n++
		if next := end + int64(len(sc.Bytes())) + 1; next <= st.Size() {
			end = next
		}
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		switch op.Op {
		case "put":
			if op.Record != nil && op.Record.ID != "" {
				out[op.Record.ID] = *op.Record
			}
		case "del":
			delete(out, op.ID)
		}
	}
	return n, end, sc.Err()
}
