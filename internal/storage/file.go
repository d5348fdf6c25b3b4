package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "netmon/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.samples.jsonl (append-only JSON Lines)
//   - <prefix>.ip.jsonl      (append-only JSON Lines)
//
// Prune rewrites each file through a tmp+rename cycle.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	samplesPath string
	ipPath      string

	samplesFile *os.File
	ipFile      *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
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

	samplesPath := prefix + ".samples.jsonl"
	ipPath := prefix + ".ip.jsonl"

	sf, err := os.OpenFile(samplesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	inf, err := os.OpenFile(ipPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = sf.Close()
		return nil, err
	}

	return &fileStore{
		log:         log,
		samplesPath: samplesPath,
		ipPath:      ipPath,
		samplesFile: sf,
		ipFile:      inf,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.samplesFile != nil {
		err1 = s.samplesFile.Close()
		s.samplesFile = nil
	}
	if s.ipFile != nil {
		err2 = s.ipFile.Close()
		s.ipFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) InsertSample(ctx context.Context, smp Sample) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samplesFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.samplesFile).Encode(smp)
}

func (s *fileStore) InsertIPObservation(ctx context.Context, o IPObservation) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ipFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.ipFile).Encode(o)
}

func (s *fileStore) QuerySamples(ctx context.Context, start, end time.Time) ([]Sample, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samplesFile == nil {
		return nil, ErrClosed
	}

	var out []Sample
	err := scanLines(s.samplesPath, func(line []byte) {
		var smp Sample
		if json.Unmarshal(line, &smp) != nil {
			return
		}
		if inWindow(smp.Timestamp, start, end) {
			out = append(out, smp)
		}
	})
	return out, err
}

func (s *fileStore) QueryIPObservations(ctx context.Context, start, end time.Time) ([]IPObservation, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ipFile == nil {
		return nil, ErrClosed
	}

	var out []IPObservation
	err := scanLines(s.ipPath, func(line []byte) {
		var o IPObservation
		if json.Unmarshal(line, &o) != nil {
			return
		}
		if inWindow(o.Timestamp, start, end) {
			out = append(out, o)
		}
	})
	return out, err
}

func (s *fileStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samplesFile == nil || s.ipFile == nil {
		return 0, ErrClosed
	}

	n1, err := compactFileLocked(s.samplesPath, &s.samplesFile, olderThan)
	if err != nil {
		return n1, err
	}
	n2, err := compactFileLocked(s.ipPath, &s.ipFile, olderThan)
	return n1 + n2, err
}

func inWindow(ts, start, end time.Time) bool {
	return !ts.Before(start) && ts.Before(end)
}

func scanLines(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fn(sc.Bytes())
	}
	return sc.Err()
}

// compactFileLocked rewrites path keeping only records at or after the
// cutoff, then swaps the append handle to the new file.
func compactFileLocked(path string, handle **os.File, olderThan time.Time) (int64, error) {
	type stamped struct {
		Timestamp time.Time `json:"timestamp"`
	}

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}

	var removed int64
	w := bufio.NewWriter(out)
	err = scanLines(path, func(line []byte) {
		var st stamped
		if json.Unmarshal(line, &st) != nil || st.Timestamp.Before(olderThan) {
			removed++
			return
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	// The old handle points at the replaced inode; reopen for append.
	_ = (*handle).Close()
	nf, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	*handle = nf
	return removed, nil
}
