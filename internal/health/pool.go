package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/clipsight/clipsight-backend/internal/logger"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// PoolSnapshot is an instantaneous view of the catalog connection pool.
type PoolSnapshot struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	InUse     int   `json:"in_use"`
	Waiting   int64 `json:"waiting"`
	MaxSize   int   `json:"max_size"`
	MinSize   int   `json:"min_size"`
}

type PoolStats struct {
	Name string `json:"name"`
	PoolSnapshot
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type Recommendation struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

type HealthReport struct {
	Status          string           `json:"status"`
	Timestamp       string           `json:"timestamp"`
	Metrics         PoolMetrics      `json:"metrics"`
	Recommendations []Recommendation `json:"recommendations"`
}

type PoolMetrics struct {
	PoolSnapshot
	UtilizationPercent float64 `json:"utilization_percent"`
	CapacityPercent    float64 `json:"capacity_percent"`
}

type ConnectionTest struct {
	CanConnect     bool    `json:"can_connect"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Error          *string `json:"error,omitempty"`
}

// StatsSource is satisfied by the Postgres bootstrap service.
type StatsSource interface {
	Stats() sql.DBStats
	MaxOpenConns() int
	MaxIdleConns() int
}

// PoolService is a purely advisory read-only surface over the catalog
// connection pool; it never mutates pool configuration.
type PoolService struct {
	log    *logger.Logger
	db     *gorm.DB
	source StatsSource

	// database/sql only exposes a cumulative wait counter, so instantaneous
	// "waiting" is approximated by the delta since the previous sample.
	lastWaitCount atomic.Int64
}

func NewPoolService(log *logger.Logger, db *gorm.DB, source StatsSource) *PoolService {
	return &PoolService{
		log:    log.With("service", "PoolHealthService"),
		db:     db,
		source: source,
	}
}

func (s *PoolService) snapshot() PoolSnapshot {
	stats := s.source.Stats()
	prev := s.lastWaitCount.Swap(stats.WaitCount)
	waiting := stats.WaitCount - prev
	if waiting < 0 {
		waiting = 0
	}
	return PoolSnapshot{
		Size:      stats.OpenConnections,
		Available: stats.Idle,
		InUse:     stats.InUse,
		Waiting:   waiting,
		MaxSize:   s.source.MaxOpenConns(),
		MinSize:   s.source.MaxIdleConns(),
	}
}

func (s *PoolService) Stats() PoolStats {
	snap := s.snapshot()
	return PoolStats{
		Name:         "postgres_pool",
		PoolSnapshot: snap,
		Status:       EvaluateStatus(snap),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *PoolService) Health() HealthReport {
	snap := s.snapshot()
	utilization := 0.0
	if snap.Size > 0 {
		utilization = float64(snap.Size-snap.Available) / float64(snap.Size) * 100
	}
	capacity := 0.0
	if snap.MaxSize > 0 {
		capacity = float64(snap.Available) / float64(snap.MaxSize) * 100
	}
	status := StatusHealthy
	if utilization >= 80 || snap.Available == 0 {
		status = StatusDegraded
	}
	return HealthReport{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metrics: PoolMetrics{
			PoolSnapshot:       snap,
			UtilizationPercent: round2(utilization),
			CapacityPercent:    round2(capacity),
		},
		Recommendations: Recommendations(snap, utilization),
	}
}

func (s *PoolService) TestConnection(ctx context.Context) ConnectionTest {
	start := time.Now()
	var one int
	err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		msg := err.Error()
		return ConnectionTest{CanConnect: false, ResponseTimeMs: round2(elapsed), Error: &msg}
	}
	if one != 1 {
		msg := "unexpected query result"
		return ConnectionTest{CanConnect: false, ResponseTimeMs: round2(elapsed), Error: &msg}
	}
	return ConnectionTest{CanConnect: true, ResponseTimeMs: round2(elapsed)}
}

// EvaluateStatus derives the advisory status for a snapshot. Exhaustion with
// requests queued is a warning (they will be served); exhaustion with nothing
// waiting means acquisitions are failing outright.
func EvaluateStatus(snap PoolSnapshot) string {
	if snap.Available == 0 {
		if snap.Waiting > 0 {
			return StatusWarning
		}
		return StatusCritical
	}
	if float64(snap.Available) < float64(snap.Size)*0.3 {
		return StatusDegraded
	}
	return StatusHealthy
}

func Recommendations(snap PoolSnapshot, utilization float64) []Recommendation {
	recs := []Recommendation{}
	if snap.Available == 0 {
		recs = append(recs, Recommendation{
			Level:   "critical",
			Message: "No connections available! Requests will be queued or timeout.",
			Action:  "Check for connection leaks. Ensure connections are released properly.",
		})
	}
	if snap.Waiting > 5 {
		recs = append(recs, Recommendation{
			Level:   "warning",
			Message: fmt.Sprintf("%d requests waiting for connections.", snap.Waiting),
			Action:  "Consider increasing max pool size or optimizing slow queries.",
		})
	}
	if utilization > 80 {
		recs = append(recs, Recommendation{
			Level:   "warning",
			Message: fmt.Sprintf("High utilization (%.1f%%). Pool is near capacity.", utilization),
			Action:  "Monitor for connection leaks or increase pool size.",
		})
	}
	if snap.Size < snap.MinSize {
		recs = append(recs, Recommendation{
			Level:   "info",
			Message: "Pool is below minimum size. New connections will be created.",
			Action:  "This is normal during startup or low traffic periods.",
		})
	}
	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Level:   "success",
			Message: "Pool is healthy!",
			Action:  "No action needed.",
		})
	}
	return recs
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
