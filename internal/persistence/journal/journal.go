// Package journal appends every finished operation and combat engagement to
// hourly zstd-compressed JSONL files.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/executor"
)

// hourFile is one open, compressed journal file.
type hourFile struct {
	hour string
	f    *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func openHourFile(path, hour string) (*hourFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &hourFile{hour: hour, f: f, zw: zw, buf: bufio.NewWriterSize(zw, 64*1024)}, nil
}

// close ends the zstd frame; a file is only fully readable after this.
func (h *hourFile) close() error {
	_ = h.buf.Flush()
	err := h.zw.Close()
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Writer appends JSON lines to <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst,
// switching files when the UTC hour changes.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	cur *hourFile
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

func (w *Writer) path(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

func (w *Writer) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	hour := w.now().UTC().Format("2006-01-02-15")
	if w.cur == nil || w.cur.hour != hour {
		if w.cur != nil {
			if err := w.cur.close(); err != nil {
				return err
			}
			w.cur = nil
		}
		hf, err := openHourFile(w.path(hour), hour)
		if err != nil {
			return err
		}
		w.cur = hf
	}
	if _, err := w.cur.buf.Write(line); err != nil {
		return err
	}
	return w.cur.buf.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	err := w.cur.close()
	w.cur = nil
	return err
}

// Entry is one journal line.
type Entry struct {
	Type       string             `json:"type"`
	TS         time.Time          `json:"ts"`
	Operation  *executor.Outcome  `json:"operation,omitempty"`
	Engagement *combat.Engagement `json:"engagement,omitempty"`
}

const (
	TypeOperation  = "operation"
	TypeEngagement = "engagement"
)

// Journal records outcomes under dir/journal.
type Journal struct {
	w      *Writer
	logger *log.Logger
}

func New(dir string, logger *log.Logger) *Journal {
	return &Journal{w: NewWriter(filepath.Join(dir, "journal"), "ops"), logger: logger}
}

func (j *Journal) write(e Entry) {
	if err := j.w.Write(e); err != nil && j.logger != nil {
		j.logger.Printf("journal write type=%s err=%v", e.Type, err)
	}
}

func (j *Journal) RecordOperation(out executor.Outcome) {
	j.write(Entry{Type: TypeOperation, TS: out.FinishedAt, Operation: &out})
}

func (j *Journal) RecordEngagement(e combat.Engagement) {
	j.write(Entry{Type: TypeEngagement, TS: e.FinishedAt, Engagement: &e})
}

func (j *Journal) Close() error { return j.w.Close() }

// ReadFile decodes every entry of one closed journal file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) ([]Entry, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
