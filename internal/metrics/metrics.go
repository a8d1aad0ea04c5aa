package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds process-wide counters for monitor runs and the persistence layer
type Metrics struct {
	startTime time.Time

	// Ingestion metrics
	ingestRowsTotal    atomic.Int64
	ingestBatchesTotal atomic.Int64
	ingestErrorsTotal  atomic.Int64
	integrityErrors    atomic.Int64

	// MessagePack cache
	msgpackRecordsTotal atomic.Int64
	msgpackBytesTotal   atomic.Int64

	// Query metrics
	queryRequestsTotal atomic.Int64
	queryErrorsTotal   atomic.Int64
	queryRowsTotal     atomic.Int64
	queryLatencySum    atomic.Int64 // microseconds
	queryLatencyCount  atomic.Int64

	// Database connections
	dbConnectionsOpened atomic.Int64
	dbConnectionsOpen   atomic.Int64

	// Storage metrics
	storageWritesTotal     atomic.Int64
	storageWriteBytesTotal atomic.Int64
	storageReadsTotal      atomic.Int64
	storageErrorsTotal     atomic.Int64

	// Monitor metrics
	monitorRunsTotal     atomic.Int64
	monitorFailuresTotal atomic.Int64
	resultsStoredTotal   atomic.Int64
	resultsSkippedTotal  atomic.Int64
	notificationsSent    atomic.Int64
	notificationErrors   atomic.Int64

	// File discovery
	filesScannedTotal atomic.Int64
	fileErrorsTotal   atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			startTime: time.Now(),
		}
	})
	return instance
}

// Init initializes the metrics collector with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// Ingestion Metrics
func (m *Metrics) IncIngestRows(count int64) { m.ingestRowsTotal.Add(count) }
func (m *Metrics) IncIngestBatches()         { m.ingestBatchesTotal.Add(1) }
func (m *Metrics) IncIngestErrors()          { m.ingestErrorsTotal.Add(1) }
func (m *Metrics) IncIntegrityErrors()       { m.integrityErrors.Add(1) }

// MessagePack Metrics
func (m *Metrics) IncMsgPackRecords(count int64) { m.msgpackRecordsTotal.Add(count) }
func (m *Metrics) IncMsgPackBytes(bytes int64)   { m.msgpackBytesTotal.Add(bytes) }

// Query Metrics
func (m *Metrics) IncQueryRequests()        { m.queryRequestsTotal.Add(1) }
func (m *Metrics) IncQueryErrors()          { m.queryErrorsTotal.Add(1) }
func (m *Metrics) IncQueryRows(count int64) { m.queryRowsTotal.Add(count) }

// RecordQueryLatency records query latency in microseconds
func (m *Metrics) RecordQueryLatency(durationMicros int64) {
	m.queryLatencySum.Add(durationMicros)
	m.queryLatencyCount.Add(1)
}

// Database Metrics
func (m *Metrics) IncDBConnectionsOpened() { m.dbConnectionsOpened.Add(1); m.dbConnectionsOpen.Add(1) }
func (m *Metrics) DecDBConnectionsOpen()   { m.dbConnectionsOpen.Add(-1) }

// Storage Metrics
func (m *Metrics) IncStorageWrites()                { m.storageWritesTotal.Add(1) }
func (m *Metrics) IncStorageWriteBytes(bytes int64) { m.storageWriteBytesTotal.Add(bytes) }
func (m *Metrics) IncStorageReads()                 { m.storageReadsTotal.Add(1) }
func (m *Metrics) IncStorageErrors()                { m.storageErrorsTotal.Add(1) }

// Monitor Metrics
func (m *Metrics) IncMonitorRuns()          { m.monitorRunsTotal.Add(1) }
func (m *Metrics) IncMonitorFailures()      { m.monitorFailuresTotal.Add(1) }
func (m *Metrics) IncResultsStored()        { m.resultsStoredTotal.Add(1) }
func (m *Metrics) IncResultsSkipped()       { m.resultsSkippedTotal.Add(1) }
func (m *Metrics) IncNotificationsSent()    { m.notificationsSent.Add(1) }
func (m *Metrics) IncNotificationErrors()   { m.notificationErrors.Add(1) }
func (m *Metrics) IncFilesScanned(n int64)  { m.filesScannedTotal.Add(n) }
func (m *Metrics) IncFileErrors()           { m.fileErrorsTotal.Add(1) }

// Snapshot returns all metrics as a map
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		// Process info
		"uptime_seconds":     time.Since(m.startTime).Seconds(),
		"goroutines":         runtime.NumGoroutine(),
		"memory_alloc_bytes": memStats.Alloc,

		// Ingestion
		"ingest_rows_total":       m.ingestRowsTotal.Load(),
		"ingest_batches_total":    m.ingestBatchesTotal.Load(),
		"ingest_errors_total":     m.ingestErrorsTotal.Load(),
		"ingest_integrity_errors": m.integrityErrors.Load(),

		// MessagePack
		"msgpack_records_total": m.msgpackRecordsTotal.Load(),
		"msgpack_bytes_total":   m.msgpackBytesTotal.Load(),

		// Query
		"query_requests_total": m.queryRequestsTotal.Load(),
		"query_errors_total":   m.queryErrorsTotal.Load(),
		"query_rows_total":     m.queryRowsTotal.Load(),
		"query_latency_sum_us": m.queryLatencySum.Load(),
		"query_latency_count":  m.queryLatencyCount.Load(),

		// Database
		"db_connections_opened": m.dbConnectionsOpened.Load(),
		"db_connections_open":   m.dbConnectionsOpen.Load(),

		// Storage
		"storage_writes_total":      m.storageWritesTotal.Load(),
		"storage_write_bytes_total": m.storageWriteBytesTotal.Load(),
		"storage_reads_total":       m.storageReadsTotal.Load(),
		"storage_errors_total":      m.storageErrorsTotal.Load(),

		// Monitors
		"monitor_runs_total":        m.monitorRunsTotal.Load(),
		"monitor_failures_total":    m.monitorFailuresTotal.Load(),
		"results_stored_total":      m.resultsStoredTotal.Load(),
		"results_skipped_total":     m.resultsSkippedTotal.Load(),
		"notifications_sent_total":  m.notificationsSent.Load(),
		"notification_errors_total": m.notificationErrors.Load(),

		// Files
		"files_scanned_total": m.filesScannedTotal.Load(),
		"file_errors_total":   m.fileErrorsTotal.Load(),
	}
}

// LogSummary writes the current counters at info level
func (m *Metrics) LogSummary() {
	m.logger.Info().
		Int64("monitor_runs", m.monitorRunsTotal.Load()).
		Int64("monitor_failures", m.monitorFailuresTotal.Load()).
		Int64("ingest_rows", m.ingestRowsTotal.Load()).
		Int64("query_rows", m.queryRowsTotal.Load()).
		Int64("results_stored", m.resultsStoredTotal.Load()).
		Msg("Metrics summary")
}
