// Package telemetry records remote API calls for diagnostics: which URL was
// hit, with which method, and how long it took. Recorders are fire-and-forget;
// they never fail or block the call they describe.
package telemetry

//go:generate $MOCKGEN -source=telemetry.go -destination=mocks/telemetry_mock.go

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/manut/conan/internal/constants"
	"github.com/manut/conan/internal/logger"
)

// maskedHeaderValue replaces credential-bearing header values in traces.
const maskedHeaderValue = "**********"

// maskedHeaders lists headers whose values never reach a trace.
//
//nolint:gochecknoglobals // This is an immutable lookup used as a constant.
var maskedHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"X-Client-Id":         {},
}

// Call describes a single completed remote API call.
type Call struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`
	// Action tags the record type in trace files.
	Action string `json:"_action"`
	// Method is the HTTP method in upper case.
	Method string `json:"method"`
	// URL is the requested URL.
	URL string `json:"url"`
	// DurationSeconds is the wall-clock duration of the call.
	DurationSeconds float64 `json:"duration"`
	// Headers are the request headers, with credentials masked.
	Headers map[string]string `json:"headers"`
	// Time is when the call completed.
	Time time.Time `json:"time"`
}

// actionRESTAPICall tags records written for dispatcher calls.
const actionRESTAPICall = "REST_API_CALL"

// openFlagsAppend opens the trace file for appending, creating it if needed.
const openFlagsAppend = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// NewCall builds a Call record for a completed request.
func NewCall(method, url string, duration time.Duration, headers http.Header) Call {
	masked := make(map[string]string, len(headers))

	for name := range headers {
		canonical := http.CanonicalHeaderKey(name)
		if _, hidden := maskedHeaders[canonical]; hidden {
			masked[canonical] = maskedHeaderValue

			continue
		}

		masked[canonical] = headers.Get(name)
	}

	return Call{
		ID:              uuid.NewString(),
		Action:          actionRESTAPICall,
		Method:          method,
		URL:             url,
		DurationSeconds: duration.Seconds(),
		Headers:         masked,
		Time:            time.Now().UTC(),
	}
}

// Recorder receives completed call records.
type Recorder interface {
	// Record stores one call record. Implementations must not fail the call:
	// recording errors are swallowed and at most logged.
	Record(ctx context.Context, call Call)
}

// LogRecorder writes call records to the debug log.
type LogRecorder struct{}

// NewLogRecorder creates and returns a new instance of LogRecorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

// Record logs the call at debug level.
func (r *LogRecorder) Record(ctx context.Context, call Call) {
	logger.Debugf(ctx, "%s: %s %s (%.3fs)", call.Action, call.Method, call.URL, call.DurationSeconds)
}

// FileRecorder appends call records as JSON lines to a trace file.
type FileRecorder struct {
	// fs is the filesystem the trace file lives on.
	fs afero.Fs
	// path is the trace file location.
	path string
	// mu serializes appends from concurrent calls.
	mu sync.Mutex
}

// NewFileRecorder creates and returns a new instance of FileRecorder.
func NewFileRecorder(fs afero.Fs, path string) *FileRecorder {
	return &FileRecorder{
		fs:   fs,
		path: path,
	}
}

// Record appends the call to the trace file as one JSON line.
// Failures are logged and otherwise ignored.
func (r *FileRecorder) Record(ctx context.Context, call Call) {
	line, err := json.Marshal(call)
	if err != nil {
		logger.Warnf(ctx, "Failed to encode trace record: %v", err)

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.fs.OpenFile(r.path, openFlagsAppend, constants.DefaultFilePermissions)
	if err != nil {
		logger.Warnf(ctx, "Failed to open trace file %s: %v", r.path, err)

		return
	}

	defer file.Close() //nolint:errcheck // Append-mode writes are flushed on Write; close errors carry no data.

	if _, err = file.Write(append(line, '\n')); err != nil {
		logger.Warnf(ctx, "Failed to append trace record to %s: %v", r.path, err)
	}
}
