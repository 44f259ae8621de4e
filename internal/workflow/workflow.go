// Package workflow drives one receipt submission from raw user input
// to a displayable image: validate locally, submit once, decode and
// render the returned payload, then poke the stats aggregator.
package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"receiptdesk/internal/api"
	"receiptdesk/internal/display"
)

// State is the workflow's position in
// Idle → Validating → Submitting → {Displaying, Failed}.
type State int

const (
	Idle State = iota
	Validating
	Submitting
	Displaying
	Failed
)

// ErrBusy is returned when a submission is already in flight on this
// workflow instance.
var ErrBusy = errors.New("a submission is already in flight")

// ErrClosed is returned when the workflow was torn down; late results
// are discarded, not applied.
var ErrClosed = errors.New("workflow closed")

// ValidationError is a local input failure; it never reaches the
// network layer.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Creator issues the receipt-creation call.
type Creator interface {
	CreateReceipt(ctx context.Context, total float64) (api.ReceiptResponse, error)
}

// Refresher is poked after every successful submission.
type Refresher interface {
	Refresh(ctx context.Context)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Result is the server-confirmed receipt: the decoded image payload,
// where it was written, and when. Ephemeral; cleared by the user or
// superseded by the next submission.
type Result struct {
	Image     []byte
	Path      string
	CreatedAt time.Time
}

// Workflow handles receipt submissions. At most one submission is in
// flight per instance.
type Workflow struct {
	creator    Creator
	refresher  Refresher
	images     display.Store
	timeSource TimeSource

	mu       sync.Mutex
	state    State
	inflight bool
	closed   bool
	result   *Result
	message  string
}

// New creates a Workflow. refresher and images may be nil, in which
// case the stats trigger and the on-disk copy are skipped.
func New(creator Creator, refresher Refresher, images display.Store) *Workflow {
	return &Workflow{
		creator:    creator,
		refresher:  refresher,
		images:     images,
		timeSource: &defaultTimeSource{},
	}
}

// NewWithDeps creates a Workflow with a custom time source for testing.
func NewWithDeps(creator Creator, refresher Refresher, images display.Store, timeSource TimeSource) *Workflow {
	w := New(creator, refresher, images)
	w.timeSource = timeSource
	return w
}

// State returns the workflow's current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Result returns the displayed result, or nil outside Displaying.
func (w *Workflow) Result() *Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// ErrorMessage returns the user-facing message for the last failure.
func (w *Workflow) ErrorMessage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.message
}

// Submit validates the raw amount, performs one creation request, and
// exposes the decoded image for rendering. The stats refresh runs
// asynchronously after the success response is observed; the Displaying
// transition never waits for it.
func (w *Workflow) Submit(ctx context.Context, raw string) (*Result, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.inflight {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	w.state = Validating
	w.mu.Unlock()

	total, err := ParseAmount(raw)
	if err != nil {
		w.fail(err.Error())
		return nil, err
	}

	w.mu.Lock()
	w.inflight = true
	w.state = Submitting
	w.mu.Unlock()

	resp, err := w.creator.CreateReceipt(ctx, total)

	w.mu.Lock()
	w.inflight = false
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	w.mu.Unlock()

	if err != nil {
		w.fail(failureMessage(err))
		return nil, err
	}

	image, err := decodePayload(resp.PDFEndpoint)
	if err != nil {
		w.fail("Failed to generate receipt")
		return nil, err
	}

	result := &Result{Image: image, CreatedAt: w.timeSource.Now()}
	if w.images != nil {
		name := fmt.Sprintf("receipt_%d.png", result.CreatedAt.UnixNano())
		path, err := w.images.Save(name, image)
		if err != nil {
			// The decoded image is still displayable; losing the disk
			// copy is not a submission failure.
			slog.Warn("failed to save receipt image", "error", err)
		} else {
			result.Path = path
		}
	}

	w.mu.Lock()
	// Close may have landed while the payload was being decoded and
	// written out; a torn-down workflow applies nothing.
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	w.state = Displaying
	w.result = result
	w.message = ""
	w.mu.Unlock()

	if w.refresher != nil {
		go w.refresher.Refresh(context.WithoutCancel(ctx))
	}

	return result, nil
}

// Clear drops the displayed result and returns to Idle. It does not
// touch the stats aggregator.
func (w *Workflow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = Idle
	w.result = nil
	w.message = ""
}

// Close tears the workflow down. An in-flight submission finishing
// afterwards has no effect on state.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.state = Idle
	w.result = nil
}

func (w *Workflow) fail(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.state = Failed
	w.message = message
}

// ParseAmount validates raw receipt input: it must be non-empty and
// parse to a finite number greater than zero.
func ParseAmount(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &ValidationError{Msg: "Please enter total amount"}
	}
	total, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		return 0, &ValidationError{Msg: "Total must be a positive number"}
	}
	return total, nil
}

// decodePayload decodes the base64 image the backend returns, stripping
// a data-URI prefix if one was included, and normalizes it to PNG.
func decodePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("empty image payload")
	}
	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}

	return display.ToPNG(data, "")
}

// failureMessage keeps the most specific message available: backend
// detail (or message field), then the transport error, then a fixed
// fallback.
func failureMessage(err error) string {
	var cerr *api.ClientError
	if errors.As(err, &cerr) && cerr.Detail != "" {
		return cerr.Detail
	}
	var timeout *api.Timeout
	if errors.As(err, &timeout) {
		return timeout.Error()
	}
	var unreachable *api.Unreachable
	if errors.As(err, &unreachable) {
		return unreachable.Error()
	}
	return "Failed to generate receipt"
}
