package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/triage-ai/guardbench/internal/engine"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

const insertResults = `
	INSERT INTO guardrail_test_results (
		run_id, test_id, test_name, category, model_id, provider, timestamp,
		status, pass_reason, expected_action,
		was_blocked, input_blocked, output_blocked,
		prompt_preview, prompt_hash, response_preview,
		input_tokens, output_tokens, total_tokens, latency_ms, error,
		policy_ids, policy_directions, policy_statuses, violation_labels
	)
`

// ClickHouseWriter writes results to ClickHouse asynchronously.
// Write is non-blocking; records are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *Record
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseWriter connects, pings and starts the background flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return newClickHouseWriter(conn, logger), nil
}

// OpenClickHouse parses dsn, opens a connection and pings it.
func OpenClickHouse(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ClickHouse Cloud only accepts TLS on its native port.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func newClickHouseWriter(conn driver.Conn, logger *zap.Logger) *ClickHouseWriter {
	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *Record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go w.flushLoop()
	return w
}

// Write queues a result for async insertion. It returns ErrBufferFull and
// drops the record if the buffer is full.
func (w *ClickHouseWriter) Write(_ context.Context, r *Record) error {
	select {
	case w.buffer <- r:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close signals the flush loop to drain remaining records and waits for it
// to finish (up to drainTimeout). Safe to call once.
func (w *ClickHouseWriter) Close() error {
	close(w.done)
	<-w.flushed
	return nil
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, flushBatch)

	for {
		select {
		case r := <-w.buffer:
			batch = append(batch, r)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case r := <-w.buffer:
					batch = append(batch, r)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(records []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, insertResults)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		if err := batch.Append(row(r)...); err != nil {
			w.logger.Error("clickhouse append result failed",
				zap.String("test_id", r.TestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// row flattens r into insertResults column order. Verdicts from both
// screenings are laid out as parallel arrays, input first.
func row(r *Record) []any {
	verdicts := make([]engine.Verdict, 0, len(r.InputScreening.Verdicts)+len(r.OutputScreening.Verdicts))
	verdicts = append(verdicts, r.InputScreening.Verdicts...)
	verdicts = append(verdicts, r.OutputScreening.Verdicts...)

	ids := make([]string, 0, len(verdicts))
	dirs := make([]string, 0, len(verdicts))
	statuses := make([]string, 0, len(verdicts))
	labels := []string{}
	for _, v := range verdicts {
		ids = append(ids, v.Policy.String())
		dirs = append(dirs, v.Direction.String())
		statuses = append(statuses, v.Status.String())
		for _, vi := range v.Violations {
			labels = append(labels, vi.Label())
		}
	}

	return []any{
		r.RunID,
		r.TestID,
		r.TestName,
		r.Category,
		r.ModelID,
		r.Provider,
		r.Timestamp,
		r.Status,
		r.PassReason,
		r.ExpectedAction,
		boolUint8(r.WasBlocked),
		boolUint8(r.InputBlocked),
		boolUint8(r.OutputBlocked),
		Preview(r.Prompt),
		PayloadHash(r.Prompt),
		Preview(r.Response),
		uint32(r.InputTokens),
		uint32(r.OutputTokens),
		uint32(r.TotalTokens),
		float32(r.LatencyMs),
		r.Error,
		ids,
		dirs,
		statuses,
		labels,
	}
}

func boolUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
