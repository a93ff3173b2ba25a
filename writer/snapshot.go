package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "perpwatch/config"
	"perpwatch/internal/market"
	"perpwatch/logger"
)

// snapshotRow defines the parquet schema for one (exchange, token) record.
// Funding fields mirror the record's optional fields.
type snapshotRow struct {
	Exchange             string   `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token                string   `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price                *float64 `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	FundingRate          *float64 `parquet:"name=funding_rate, type=DOUBLE, repetitiontype=OPTIONAL"`
	FundingIntervalHours *float64 `parquet:"name=funding_interval_hours, type=DOUBLE, repetitiontype=OPTIONAL"`
	NextFundingTime      *int64   `parquet:"name=next_funding_time, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
	UpdatedAt            int64    `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	CapturedAt           int64    `parquet:"name=captured_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// memFileWriter adapts an in-memory buffer to the parquet file interface so
// snapshots can be built without touching local disk before upload.
type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

// SnapshotWriter periodically dumps the full market state to durable
// storage: parquet on S3, JSON on the local filesystem, or both. Snapshots
// are best-effort operational visibility; a failed write is logged and the
// next tick tries again.
type SnapshotWriter struct {
	cfg      appconfig.StorageConfig
	state    *market.State
	s3Client *s3.Client
	log      *logger.Entry

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSnapshotWriter(cfg appconfig.StorageConfig, state *market.State) (*SnapshotWriter, error) {
	w := &SnapshotWriter{
		cfg:   cfg,
		state: state,
		log:   logger.GetLogger().WithComponent("snapshot_writer"),
	}

	if cfg.S3.Enabled {
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3.Region)}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.S3.AccessKeyID,
					cfg.S3.SecretAccessKey,
					"",
				)))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		w.s3Client = s3.NewFromConfig(awsCfg)
	}

	return w, nil
}

func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("snapshot writer already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.run(runCtx)

	w.log.WithField("interval", w.cfg.SnapshotInterval().String()).Info("snapshot writer started")
	return nil
}

func (w *SnapshotWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.log.Info("snapshot writer stopped")
}

func (w *SnapshotWriter) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteSnapshot(ctx)
		}
	}
}

// WriteSnapshot captures the state once and flushes it to every enabled
// destination.
func (w *SnapshotWriter) WriteSnapshot(ctx context.Context) {
	snap := w.state.Snapshot()
	if len(snap) == 0 {
		return
	}
	now := time.Now().UTC()

	if w.cfg.File.Enabled {
		if size, err := w.writeFile(snap, now); err != nil {
			w.log.WithError(err).Warn("failed to write snapshot file")
		} else {
			logger.IncrementSnapshotWrite(size)
		}
	}

	if w.s3Client != nil {
		if size, err := w.uploadParquet(ctx, snap, now); err != nil {
			w.log.WithError(err).Warn("failed to upload snapshot to s3")
		} else {
			logger.IncrementSnapshotWrite(size)
		}
	}
}

func (w *SnapshotWriter) writeFile(snap market.Snapshot, now time.Time) (int64, error) {
	if err := os.MkdirAll(w.cfg.File.Path, 0o755); err != nil {
		return 0, err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, err
	}

	path := filepath.Join(w.cfg.File.Path, fmt.Sprintf("snapshot_%s.json", now.Format("20060102T150405Z")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}

	w.log.WithFields(logger.Fields{"path": path, "exchanges": len(snap), "bytes": len(data)}).Debug("snapshot written")
	return int64(len(data)), nil
}

func (w *SnapshotWriter) uploadParquet(ctx context.Context, snap market.Snapshot, now time.Time) (int64, error) {
	rows := flatten(snap, now)
	if len(rows) == 0 {
		return 0, nil
	}

	data, err := createParquet(rows)
	if err != nil {
		return 0, err
	}

	key := w.s3Key(now)
	if _, err := w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.cfg.S3.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return 0, err
	}

	w.log.WithFields(logger.Fields{"s3_key": key, "records": len(rows), "bytes": len(data)}).Info("snapshot uploaded")
	return int64(len(data)), nil
}

func flatten(snap market.Snapshot, now time.Time) []snapshotRow {
	var rows []snapshotRow
	exchanges := make([]string, 0, len(snap))
	for name := range snap {
		exchanges = append(exchanges, name)
	}
	sort.Strings(exchanges)

	for _, exchange := range exchanges {
		part := snap[exchange]
		tokens := make([]string, 0, len(part))
		for token := range part {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)

		for _, token := range tokens {
			rec := part[token]
			rows = append(rows, snapshotRow{
				Exchange:             exchange,
				Token:                token,
				Price:                rec.Price,
				FundingRate:          rec.FundingRate,
				FundingIntervalHours: rec.FundingIntervalHours,
				NextFundingTime:      rec.NextFundingTime,
				UpdatedAt:            rec.UpdatedAt.UnixMilli(),
				CapturedAt:           now.UnixMilli(),
			})
		}
	}
	return rows
}

func createParquet(rows []snapshotRow) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(snapshotRow), 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return mw.Bytes(), nil
}

func (w *SnapshotWriter) s3Key(now time.Time) string {
	parts := []string{
		w.cfg.S3.Prefix,
		fmt.Sprintf("year=%04d", now.Year()),
		fmt.Sprintf("month=%02d", int(now.Month())),
		fmt.Sprintf("day=%02d", now.Day()),
		fmt.Sprintf("snapshot_%d_%s.parquet", now.UnixNano(), uuid.New().String()),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}
