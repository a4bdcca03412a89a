package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker counts verified rows during a run and logs throughput at a
// fixed interval. Safe for concurrent use: sheets verified in parallel
// increment the same tracker.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	processed   int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures row-progress tracking.
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker starts tracking a run of Total rows.
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   time.Now(),
		lastLogTime: time.Now(),
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"rows":      config.Total,
	}).Info("Starting verification run")

	return tracker
}

// Increment records one verified row.
func (p *ProgressTracker) Increment() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.processed++
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logProgress(now)
		p.lastLogTime = now
	}
}

// Processed returns the number of rows recorded so far.
func (p *ProgressTracker) Processed() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.processed
}

// Complete logs final throughput for a finished run.
func (p *ProgressTracker) Complete() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"rows":      p.total,
		"processed": p.processed,
		"duration":  duration.String(),
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.processed, duration)),
	}).Info("Verification run completed")
}

// CompleteWithError logs final state for a run that failed partway.
func (p *ProgressTracker) CompleteWithError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	duration := time.Since(p.startTime)
	p.logger.WithError(err).WithFields(Fields{
		"operation": p.operation,
		"rows":      p.total,
		"processed": p.processed,
		"duration":  duration.String(),
	}).Error("Verification run failed")
}

// logProgress logs an interval update. Caller holds the mutex.
func (p *ProgressTracker) logProgress(now time.Time) {
	duration := now.Sub(p.startTime)

	fields := Fields{
		"operation": p.operation,
		"processed": p.processed,
		"rate":      fmt.Sprintf("%.2f/sec", rate(p.processed, duration)),
	}
	if p.total > 0 {
		fields["rows"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.processed)/float64(p.total)*100)
	}

	p.logger.WithFields(fields).Info("Progress update")
}

func rate(processed int64, duration time.Duration) float64 {
	if duration.Seconds() <= 0 {
		return 0
	}
	return float64(processed) / duration.Seconds()
}

// OperationLogger logs the phases of one verify run with timing, so failures
// carry which phase they happened in.
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger starts a timed operation log. A nil logger uses the
// global one.
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger.WithComponent("operation"),
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	ol.logger.WithField("operation", operation).Info("Starting operation")
	return ol
}

// WithField adds a field carried on every subsequent log line.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Step logs entry into a named phase of the operation.
func (ol *OperationLogger) Step(step string) {
	fields := Fields{
		"operation": ol.operation,
		"step":      step,
	}
	for k, v := range ol.fields {
		fields[k] = v
	}

	ol.logger.WithFields(fields).Info("Operation step")
}

// Success completes the operation successfully.
func (ol *OperationLogger) Success(message string) {
	fields := Fields{
		"operation": ol.operation,
		"duration":  time.Since(ol.startTime).String(),
		"status":    "success",
	}
	for k, v := range ol.fields {
		fields[k] = v
	}

	ol.logger.WithFields(fields).Info(message)
}

// Error completes the operation with an error.
func (ol *OperationLogger) Error(err error, message string) {
	fields := Fields{
		"operation": ol.operation,
		"duration":  time.Since(ol.startTime).String(),
		"status":    "error",
	}
	for k, v := range ol.fields {
		fields[k] = v
	}

	ol.logger.WithError(err).WithFields(fields).Error(message)
}
