package index

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	ierrors "github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/store"
	"github.com/Aman-CERP/docindex/internal/telemetry"
)

// DefaultDiagnosticsRetention is the number of diagnostics kept per engine.
const DefaultDiagnosticsRetention = 256

// Diagnostic reports an isolated indexing failure.
type Diagnostic struct {
	Time       time.Time        `json:"time"`
	Index      string           `json:"index"`
	DocumentID string           `json:"document_id,omitempty"`
	Group      string           `json:"group,omitempty"`
	Generation store.Generation `json:"generation"`
	Code       string           `json:"code"`
	Severity   ierrors.Severity `json:"severity"`
	Message    string           `json:"message"`
}

// Diagnostics is the bounded diagnostics channel of one engine.
type Diagnostics struct {
	buf    *telemetry.CircularBuffer[Diagnostic]
	total  atomic.Uint64
	sink   func(Diagnostic)
	logger *slog.Logger
}

func newDiagnostics(retention int, sink func(Diagnostic), logger *slog.Logger) *Diagnostics {
	if retention <= 0 {
		retention = DefaultDiagnosticsRetention
	}
	return &Diagnostics{
		buf:    telemetry.NewCircularBuffer[Diagnostic](retention),
		sink:   sink,
		logger: logger,
	}
}

// report records err for an index. err is expected to be an IndexError.
func (d *Diagnostics) report(indexName, docID, group string, gen store.Generation, err error) {
	diag := Diagnostic{
		Time:       time.Now(),
		Index:      indexName,
		DocumentID: docID,
		Group:      group,
		Generation: gen,
		Code:       ierrors.GetCode(err),
		Severity:   ierrors.SeverityError,
		Message:    err.Error(),
	}
	var ie *ierrors.IndexError
	if errors.As(err, &ie) {
		diag.Severity = ie.Severity
	}

	d.buf.Add(diag)
	d.total.Add(1)

	event := "map_failed"
	if diag.Code == ierrors.ErrCodeReduceInvariant {
		event = "reduce_invariant_violation"
	}
	d.logger.Warn(event,
		slog.String("index", indexName),
		slog.String("document_id", docID),
		slog.String("group", group),
		slog.Uint64("generation", uint64(gen)),
		slog.String("error", err.Error()))

	if d.sink != nil {
		d.sink(diag)
	}
}

// Items returns retained diagnostics, oldest first.
func (d *Diagnostics) Items() []Diagnostic {
	return d.buf.Items()
}

// Total returns the number of diagnostics reported, including evicted ones.
func (d *Diagnostics) Total() uint64 {
	return d.total.Load()
}

func mapEvaluationError(indexName, docID string, cause error) error {
	return ierrors.New(ierrors.ErrCodeMapEvaluation, "map evaluation failed: "+cause.Error(), cause).
		WithDetail("index", indexName).
		WithDetail("document_id", docID)
}

func reduceInvariantError(indexName, group, msg string) error {
	return ierrors.New(ierrors.ErrCodeReduceInvariant, msg, nil).
		WithDetail("index", indexName).
		WithDetail("group", group)
}
