package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/face-liveness/internal/usecase"
)

// MaxUploadSize caps how large an uploaded frame may be.
const MaxUploadSize = 10 << 20

const serviceName = "face-liveness-api"

type createTemplateRequest struct {
	PhotoURLs []string `json:"photo_urls" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The health probe
// stays open; everything else sits behind the auth middleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.LivenessUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
			"model":   uc.ModelName(),
		})
	})

	authed := router.Group("/", authMiddleware)

	authed.POST("/detect-face", func(c *gin.Context) {
		image, ok := readImageUpload(c)
		if !ok {
			return
		}

		report, err := uc.DetectFaces(c.Request.Context(), image)
		if err != nil {
			respondError(c, err, "Processing failed")
			return
		}
		c.JSON(http.StatusOK, report)
	})

	authed.POST("/create-template", func(c *gin.Context) {
		var req createTemplateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request",
				"message": "photo_urls array is required",
			})
			return
		}

		result, err := uc.CreateTemplate(c.Request.Context(), req.PhotoURLs)
		if err != nil {
			respondError(c, err, "Template creation failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"template":         result.Template,
			"photos_processed": result.PhotosProcessed,
			"embedding_shape":  result.EmbeddingShape,
		})
	})

	authed.POST("/verify-liveness", func(c *gin.Context) {
		templateB64 := c.PostForm("template")
		if templateB64 == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "No template provided",
				"message": "Template embedding required for verification",
			})
			return
		}

		image, ok := readImageUpload(c)
		if !ok {
			return
		}

		result, err := uc.VerifyLiveness(c.Request.Context(), image, templateB64)
		if err != nil {
			respondError(c, err, "Verification failed")
			return
		}
		c.JSON(http.StatusOK, result)
	})

	authed.GET("/result/:id", func(c *gin.Context) {
		check, err := uc.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			respondError(c, err, "Lookup failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":      check.RequestID,
			"isMatch":         check.IsMatch,
			"similarity":      check.Similarity,
			"detection_score": check.DetectionScore,
			"reason":          check.Reason,
			"created_at":      check.CreatedAt,
		})
	})

	authed.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err, "Metrics aggregation failed")
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readImageUpload extracts and validates the multipart "image" file. It
// writes the error response itself and reports success via the boolean.
func readImageUpload(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "No image provided",
			"message": "Please upload an image file",
		})
		return nil, false
	}

	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "Image too large",
			"message": "Uploaded image exceeds the size limit",
		})
		return nil, false
	}

	if !isImageContentType(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error":   "Unsupported media type",
			"message": "Uploaded file must be an image",
		})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Unreadable upload",
			"message": "Unable to open image",
		})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Upload read failed",
			"message": err.Error(),
		})
		return nil, false
	}
	return data, true
}

func isImageContentType(file *multipart.FileHeader) bool {
	contentType := file.Header.Get("Content-Type")
	return strings.HasPrefix(contentType, "image/") || contentType == "application/octet-stream"
}

// respondError maps use case errors to HTTP statuses: client input problems
// become 400, everything else 500 with the underlying message.
func respondError(c *gin.Context, err error, title string) {
	var insufficient *usecase.InsufficientPhotosError
	var badPhotos *usecase.BadPhotosError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusBadRequest
		title = "Insufficient photos"
	case errors.As(err, &badPhotos):
		status = http.StatusBadRequest
		title = "Face detection failed"
	case errors.Is(err, usecase.ErrInvalidTemplate):
		status = http.StatusBadRequest
		title = "Invalid template"
	}

	c.JSON(status, gin.H{
		"error":   title,
		"message": err.Error(),
	})
}
