package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

type debugIDKey struct{}

// WithDebugID tags ctx so recorded exchanges of one request can be grouped.
func WithDebugID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, debugIDKey{}, id)
}

// DebugID returns the id set by WithDebugID, if any.
func DebugID(ctx context.Context) string {
	id, _ := ctx.Value(debugIDKey{}).(string)
	return id
}

// Recorder wraps a Client and appends every exchange to a JSONL file under
// a debug directory. Image bytes are recorded by size only.
type Recorder struct {
	inner  Client
	logger *zap.Logger

	mu   sync.Mutex
	file *os.File
	path string
}

type exchangeRecord struct {
	Time     time.Time `json:"time"`
	DebugID  string    `json:"debug_id,omitempty"`
	Provider string    `json:"provider"`
	Elapsed  string    `json:"elapsed"`
	Request  *Request  `json:"request"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// NewRecorder opens <dir>/<provider>/<timestamp>.jsonl.
func NewRecorder(inner Client, dir string, logger *zap.Logger) (*Recorder, error) {
	debugDir := filepath.Join(dir, filenameSafe(inner.Provider()))
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create debug directory: %w", err)
	}

	path := filepath.Join(debugDir, time.Now().Format("20060102_150405")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug file: %w", err)
	}

	logger.Debug("Recording completions", zap.String("file", path))
	return &Recorder{inner: inner, logger: logger, file: f, path: path}, nil
}

func (r *Recorder) Provider() string { return r.inner.Provider() }

func (r *Recorder) IsTransientError(err error) bool { return r.inner.IsTransientError(err) }

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

func (r *Recorder) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := r.inner.Complete(ctx, req)

	rec := exchangeRecord{
		Time:     start,
		DebugID:  DebugID(ctx),
		Provider: r.inner.Provider(),
		Elapsed:  time.Since(start).String(),
		Request:  req,
		Response: resp,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.write(rec)

	return resp, err
}

func (r *Recorder) write(rec exchangeRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		r.logger.Warn("Failed to encode debug record", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		r.logger.Warn("Failed to write debug record", zap.Error(err))
	}
}

// Close closes the debug file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func filenameSafe(s string) string {
	out := []rune(s)
	for i, c := range out {
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '-' && c != '_' {
			out[i] = '_'
		}
	}
	return string(out)
}
