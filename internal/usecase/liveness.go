package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-liveness/internal/embedding"
	"github.com/example/face-liveness/internal/faceanalysis"
	"github.com/example/face-liveness/internal/logging"
	"github.com/example/face-liveness/internal/photofetch"
	"github.com/example/face-liveness/internal/repository"
)

// Decision values reported by face detection.
const (
	DecisionAccepted = "ACCEPTED"
	DecisionRejected = "REJECTED"
)

const embeddingCacheTTL = time.Hour

// ErrInvalidTemplate marks a caller-supplied template that cannot be used.
var ErrInvalidTemplate = errors.New("invalid template")

// InsufficientPhotosError is returned when enrollment receives too few photos.
type InsufficientPhotosError struct {
	Provided int
	Required int
}

func (e *InsufficientPhotosError) Error() string {
	return fmt.Sprintf("at least %d photos required for template creation, got %d", e.Required, e.Provided)
}

// BadPhotosError lists the 1-based indices of enrollment photos that could
// not be fetched or yielded no acceptable face.
type BadPhotosError struct {
	Indices []int
}

func (e *BadPhotosError) Error() string {
	return fmt.Sprintf("could not detect a face in photos %v", e.Indices)
}

// Config carries the tunable thresholds of the selection and matching policy.
type Config struct {
	DetectionThreshold float32
	MatchThreshold     float64
	MinFaceSize        float32
	MinEnrollPhotos    int
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		DetectionThreshold: 0.60,
		MatchThreshold:     0.35,
		MinFaceSize:        20,
		MinEnrollPhotos:    4,
	}
}

// CheckRepository defines the persistence operations needed by the use case.
type CheckRepository interface {
	SaveCheck(ctx context.Context, check *repository.LivenessCheck) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.LivenessCheck, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// LivenessUseCase orchestrates the face-analysis model, photo fetching,
// caching and audit persistence behind the HTTP surface.
type LivenessUseCase struct {
	faces          faceanalysis.Client
	fetcher        photofetch.Fetcher
	cache          Cache
	repo           CheckRepository
	logger         *zap.Logger
	cfg            Config
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewLivenessUseCase constructs a new use case instance.
func NewLivenessUseCase(faces faceanalysis.Client, fetcher photofetch.Fetcher, cache Cache, repo CheckRepository, logger *zap.Logger, cfg Config) *LivenessUseCase {
	return &LivenessUseCase{
		faces:          faces,
		fetcher:        fetcher,
		cache:          cache,
		repo:           repo,
		logger:         logger.Named("liveness_usecase"),
		cfg:            cfg,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// ModelName reports the identifier of the backing face-analysis model.
func (uc *LivenessUseCase) ModelName() string {
	return uc.faces.ModelName()
}

// FaceSize is the pixel extent of a detected face.
type FaceSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectedFace is one face that survived the acceptance filter.
type DetectedFace struct {
	BBox  [4]int   `json:"bbox"`
	Score float32  `json:"score"`
	Size  FaceSize `json:"size"`
}

// DetectionReport is the outcome of the detect-face operation.
type DetectionReport struct {
	Decision   string         `json:"decision"`
	FacesCount int            `json:"faces_count"`
	Faces      []DetectedFace `json:"faces"`
	Message    string         `json:"message"`
}

// DetectFaces runs the model on an uploaded image and applies the acceptance
// policy: a face is kept when its score and pixel size clear the configured
// thresholds, and the decision is ACCEPTED when at least one face survives.
func (uc *LivenessUseCase) DetectFaces(ctx context.Context, image []byte) (*DetectionReport, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.detect_faces", requestID)

	faces, err := uc.faces.Analyze(ctx, image)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.analyze_image", requestID, err)
		opLogger.Error("face analysis failed", zap.Error(wrapped))
		return nil, wrapped
	}

	kept := faceanalysis.FilterAcceptable(faces, uc.cfg.DetectionThreshold, uc.cfg.MinFaceSize)

	report := &DetectionReport{
		Decision:   DecisionRejected,
		FacesCount: len(kept),
		Faces:      make([]DetectedFace, 0, len(kept)),
		Message:    "No valid face detected",
	}
	if len(kept) > 0 {
		report.Decision = DecisionAccepted
		report.Message = "Face detected and validated"
	}
	for _, f := range kept {
		report.Faces = append(report.Faces, DetectedFace{
			BBox:  [4]int{int(f.BBox[0]), int(f.BBox[1]), int(f.BBox[2]), int(f.BBox[3])},
			Score: f.Score,
			Size:  FaceSize{Width: int(f.BBox.Width()), Height: int(f.BBox.Height())},
		})
	}

	opLogger.Info("detection complete",
		zap.Int("faces_detected", len(faces)),
		zap.Int("faces_kept", len(kept)),
		zap.String("decision", report.Decision))
	return report, nil
}

// TemplateResult is the outcome of template creation.
type TemplateResult struct {
	Template        string `json:"template"`
	PhotosProcessed int    `json:"photos_processed"`
	EmbeddingShape  []int  `json:"embedding_shape"`
}

// CreateTemplate builds an enrollment template from photo URLs. Every photo
// must yield an acceptable face; otherwise the whole operation fails with a
// BadPhotosError naming the offending photos.
func (uc *LivenessUseCase) CreateTemplate(ctx context.Context, photoURLs []string) (*TemplateResult, error) {
	if len(photoURLs) < uc.cfg.MinEnrollPhotos {
		return nil, &InsufficientPhotosError{Provided: len(photoURLs), Required: uc.cfg.MinEnrollPhotos}
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.create_template", requestID)

	var (
		embeddings [][]float32
		badPhotos  []int
	)
	for idx, url := range photoURLs {
		emb, err := uc.enrollmentEmbedding(ctx, url, opLogger)
		if err != nil {
			opLogger.Warn("photo rejected", zap.Int("photo", idx+1), zap.Error(err))
			badPhotos = append(badPhotos, idx+1)
			continue
		}
		embeddings = append(embeddings, emb)
	}

	if len(badPhotos) > 0 {
		return nil, &BadPhotosError{Indices: badPhotos}
	}

	template, err := embedding.BuildTemplate(embeddings)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.build_template", requestID, err)
		opLogger.Error("template construction failed", zap.Error(wrapped))
		return nil, wrapped
	}

	opLogger.Info("template created", zap.Int("photos_processed", len(embeddings)), zap.Int("dimension", len(template)))
	return &TemplateResult{
		Template:        embedding.Encode(template),
		PhotosProcessed: len(embeddings),
		EmbeddingShape:  []int{len(template)},
	}, nil
}

// enrollmentEmbedding fetches one photo and returns its normalized best-face
// embedding. Embeddings are cached in Redis keyed by the photo's content hash
// so a re-submitted photo skips the model call; the cache is best effort.
func (uc *LivenessUseCase) enrollmentEmbedding(ctx context.Context, url string, opLogger *zap.Logger) ([]float32, error) {
	image, err := uc.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	hash := sha1.Sum(image)
	cacheKey := fmt.Sprintf("embedding:%s", hex.EncodeToString(hash[:]))
	if cached, err := uc.cache.Get(ctx, cacheKey); err == nil {
		if emb, decodeErr := embedding.Decode(cached); decodeErr == nil {
			return emb, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("embedding cache read failed", zap.Error(err))
	}

	emb, _, err := uc.acceptedEmbedding(ctx, image)
	if err != nil {
		return nil, err
	}

	normalized := embedding.L2Normalize(emb)
	if err := uc.cache.Set(ctx, cacheKey, embedding.Encode(normalized), embeddingCacheTTL); err != nil {
		opLogger.Warn("embedding cache write failed", zap.Error(err))
	}
	return normalized, nil
}

// VerifyResult is the outcome of liveness verification.
type VerifyResult struct {
	RequestID      string  `json:"request_id"`
	IsMatch        bool    `json:"isMatch"`
	Similarity     float64 `json:"similarity"`
	Threshold      float64 `json:"threshold"`
	DetectionScore float32 `json:"detectionScore"`
	Reason         string  `json:"reason"`
}

type cachedCheck struct {
	RequestID      string    `json:"request_id"`
	IsMatch        bool      `json:"is_match"`
	Similarity     float64   `json:"similarity"`
	DetectionScore float32   `json:"detection_score"`
	Reason         string    `json:"reason"`
	ImageSHA1      string    `json:"image_sha1"`
	CreatedAt      time.Time `json:"created_at"`
}

// VerifyLiveness compares a live frame against a caller-stored template. An
// image without an acceptable face is not an error: it reports no match with
// similarity 0.
func (uc *LivenessUseCase) VerifyLiveness(ctx context.Context, image []byte, templateB64 string) (*VerifyResult, error) {
	template, err := embedding.Decode(templateB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_liveness", requestID)

	cacheKey := fmt.Sprintf("verification:%s", requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	result := &VerifyResult{
		RequestID: requestID,
		Threshold: uc.cfg.MatchThreshold,
	}

	liveEmbedding, detectionScore, err := uc.acceptedEmbedding(ctx, image)
	switch {
	case errors.Is(err, errNoAcceptableFace):
		result.Reason = "No face detected in live frame"
	case err != nil:
		wrapped := logging.NewOperationError("usecase.analyze_image", requestID, err)
		opLogger.Error("face analysis failed", zap.Error(wrapped))
		return nil, wrapped
	default:
		similarity, simErr := embedding.Cosine(liveEmbedding, template)
		if simErr != nil {
			// shape mismatch means the caller-supplied template is unusable
			return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, simErr)
		}
		result.Similarity = similarity
		result.DetectionScore = detectionScore
		result.IsMatch = similarity >= uc.cfg.MatchThreshold
		if result.IsMatch {
			result.Reason = "Face matches template"
		} else {
			result.Reason = "Face does not match template"
		}
	}

	hash := sha1.Sum(image)
	check := &repository.LivenessCheck{
		RequestID:      requestID,
		IsMatch:        result.IsMatch,
		Similarity:     result.Similarity,
		DetectionScore: result.DetectionScore,
		ImageSHA1:      hex.EncodeToString(hash[:]),
		Reason:         result.Reason,
		CreatedAt:      time.Now().UTC(),
	}
	if err := uc.repo.SaveCheck(ctx, check); err != nil {
		wrapped := logging.NewOperationError("usecase.save_check", requestID, err)
		opLogger.Error("failed to persist liveness check", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(cachedCheck{
		RequestID:      check.RequestID,
		IsMatch:        check.IsMatch,
		Similarity:     check.Similarity,
		DetectionScore: check.DetectionScore,
		Reason:         check.Reason,
		ImageSHA1:      check.ImageSHA1,
		CreatedAt:      check.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize liveness check", zap.Error(err))
		return nil, err
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache liveness check", zap.Error(err))
		return nil, err
	}

	opLogger.Info("liveness check complete",
		zap.Bool("is_match", result.IsMatch),
		zap.Float64("similarity", result.Similarity),
		zap.Float32("detection_score", result.DetectionScore))
	return result, nil
}

// GetResult retrieves a past liveness check from cache or persistence.
func (uc *LivenessUseCase) GetResult(ctx context.Context, requestID string) (*repository.LivenessCheck, error) {
	cacheKey := fmt.Sprintf("verification:%s", requestID)
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedCheck
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached check", zap.Error(err))
		} else if payload.RequestID != "" {
			return &repository.LivenessCheck{
				RequestID:      payload.RequestID,
				IsMatch:        payload.IsMatch,
				Similarity:     payload.Similarity,
				DetectionScore: payload.DetectionScore,
				ImageSHA1:      payload.ImageSHA1,
				Reason:         payload.Reason,
				CreatedAt:      payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestID(ctx, requestID)
}

var errNoAcceptableFace = errors.New("no acceptable face")

// acceptedEmbedding selects the largest face in the image and returns its
// embedding, provided the detection score clears the configured threshold.
func (uc *LivenessUseCase) acceptedEmbedding(ctx context.Context, image []byte) ([]float32, float32, error) {
	faces, err := uc.faces.Analyze(ctx, image)
	if err != nil {
		return nil, 0, err
	}

	best := faceanalysis.BestFace(faces)
	if best == nil || best.Score < uc.cfg.DetectionThreshold {
		return nil, 0, errNoAcceptableFace
	}
	if len(best.Embedding) == 0 {
		return nil, 0, errors.New("model returned face without embedding")
	}
	return best.Embedding, best.Score, nil
}

func (uc *LivenessUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *LivenessUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
