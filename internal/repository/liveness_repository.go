package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-liveness/internal/logging"
)

// LivenessCheck is the audit record of one verification request. The service
// never reads these rows to make a match decision; they exist for result
// lookup and metrics.
type LivenessCheck struct {
	ID             uint      `gorm:"primaryKey"`
	RequestID      string    `gorm:"column:request_id;uniqueIndex;size:64"`
	IsMatch        bool      `gorm:"column:is_match"`
	Similarity     float64   `gorm:"column:similarity"`
	DetectionScore float32   `gorm:"column:detection_score"`
	ImageSHA1      string    `gorm:"column:image_sha1;index;size:40"`
	Reason         string    `gorm:"column:reason;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (LivenessCheck) TableName() string {
	return "liveness_checks"
}

// MetricsAggregation carries the raw aggregates computed by the database.
type MetricsAggregation struct {
	TotalCount        int64
	MatchCount        int64
	AverageSimilarity float64
}

// LivenessRepository provides persistence APIs for liveness check records.
type LivenessRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewLivenessRepository creates a new repository instance.
func NewLivenessRepository(db *gorm.DB, logger *zap.Logger) *LivenessRepository {
	return &LivenessRepository{
		db:             db,
		logger:         logger.Named("liveness_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *LivenessRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&LivenessCheck{})
}

// SaveCheck persists one liveness check record.
func (r *LivenessRepository) SaveCheck(ctx context.Context, check *LivenessCheck) error {
	return r.executeWithRetry(ctx, "repository.save_check", check.RequestID, func() error {
		return r.db.WithContext(ctx).Create(check).Error
	})
}

// FindByRequestID retrieves a liveness check record.
func (r *LivenessRepository) FindByRequestID(ctx context.Context, requestID string) (*LivenessCheck, error) {
	var check LivenessCheck
	err := r.executeWithRetry(ctx, "repository.find_by_request_id", requestID, func() error {
		return r.db.WithContext(ctx).First(&check, "request_id = ?", requestID).Error
	})
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// AggregateMetrics computes verification totals in a single query.
func (r *LivenessRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&LivenessCheck{}).
			Select("count(*) as total_count, count(*) filter (where is_match) as match_count, coalesce(avg(similarity), 0) as average_similarity").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *LivenessRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
