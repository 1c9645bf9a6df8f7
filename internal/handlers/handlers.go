package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/broscore/internal/media"
	"github.com/example/broscore/internal/metrics"
	"github.com/example/broscore/internal/receipt"
	"github.com/example/broscore/internal/scoring"
	"github.com/example/broscore/internal/usecase"
)

// MaxUploadSize is the largest multipart body accepted. JSON bodies carry
// base64 and may be a third larger.
const MaxUploadSize = media.MaxUploadSize

const maxRequestBody = MaxUploadSize/3*4 + 64<<10

// ScoringService is the subset of the use case the HTTP layer calls.
type ScoringService interface {
	AnalyzeImage(ctx context.Context, image []byte) (*usecase.Analysis, error)
	AnalyzeVoice(ctx context.Context, audio []byte) (*usecase.Analysis, error)
	GetAnalysis(ctx context.Context, id string) (*usecase.Analysis, error)
	SaveScore(ctx context.Context, in usecase.SaveScoreInput) (*usecase.Entry, error)
	Leaderboard(ctx context.Context, limit int) ([]usecase.RankedEntry, error)
	GetEntry(ctx context.Context, id string) (*usecase.Entry, error)
	Stats(ctx context.Context) (*usecase.Stats, error)
}

type uploadRequest struct {
	Image string `json:"image"`
	Audio string `json:"audio"`
}

type saveScoreRequest struct {
	Username      string                `json:"username"`
	TotalScore    *int                  `json:"total_score"`
	CameraScore   int                   `json:"camera_score"`
	VoiceScore    int                   `json:"voice_score"`
	Tier          string                `json:"tier"`
	DetectedItems []scoring.Item        `json:"detected_items"`
	Buzzwords     []scoring.BuzzwordHit `json:"buzzwords"`
	CameraReceipt string                `json:"camera_receipt"`
	VoiceReceipt  string                `json:"voice_receipt"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ScoringService) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")

	api.POST("/analyze-image", func(c *gin.Context) {
		payload, err := readUpload(c, media.KindImage)
		if err != nil {
			respondError(c, err)
			return
		}

		analysis, err := svc.AnalyzeImage(c.Request.Context(), payload.Data)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, analysisView(analysis))
	})

	api.POST("/analyze-voice", func(c *gin.Context) {
		payload, err := readUpload(c, media.KindAudio)
		if err != nil {
			respondError(c, err)
			return
		}

		analysis, err := svc.AnalyzeVoice(c.Request.Context(), payload.Data)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, analysisView(analysis))
	})

	api.GET("/analyses/:id", func(c *gin.Context) {
		analysis, err := svc.GetAnalysis(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, analysisView(analysis))
	})

	api.POST("/save-score", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)

		var req saveScoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err))
			return
		}

		entry, err := svc.SaveScore(c.Request.Context(), usecase.SaveScoreInput{
			Username:      req.Username,
			TotalScore:    req.TotalScore,
			CameraScore:   req.CameraScore,
			VoiceScore:    req.VoiceScore,
			DetectedItems: req.DetectedItems,
			Buzzwords:     req.Buzzwords,
			CameraReceipt: req.CameraReceipt,
			VoiceReceipt:  req.VoiceReceipt,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, gin.H{
			"id":          entry.ID,
			"total_score": entry.TotalScore,
			"tier":        entry.Tier,
		})
	})

	api.GET("/leaderboard", func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				respondError(c, fmt.Errorf("%w: limit must be an integer", usecase.ErrInvalidInput))
				return
			}
			limit = n
		}

		entries, err := svc.Leaderboard(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, entries)
	})

	api.GET("/leaderboard/:id", func(c *gin.Context) {
		entry, err := svc.GetEntry(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, entry)
	})

	api.GET("/stats", func(c *gin.Context) {
		stats, err := svc.Stats(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		respondOK(c, stats)
	})
}

// analysisView renders an analysis with the fields of its kind. The POST
// and GET routes share it so both return the same shape.
func analysisView(a *usecase.Analysis) gin.H {
	view := gin.H{
		"id":         a.ID,
		"kind":       a.Kind,
		"score":      a.Score,
		"tier":       a.Tier,
		"receipt":    a.Receipt,
		"created_at": a.CreatedAt,
	}
	if a.Kind == receipt.KindVoice {
		view["buzzwords"] = orEmpty(a.Buzzwords)
		view["transcription"] = a.Transcription
		return view
	}
	view["items"] = orEmpty(a.Items)
	view["labels"] = orEmpty(a.Labels)
	view["caption"] = a.Caption
	return view
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// readUpload accepts a multipart file or a JSON data URL under the kind's
// field name and validates the decoded bytes.
func readUpload(c *gin.Context, kind media.Kind) (*media.Payload, error) {
	field := string(kind)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBody)

	var data []byte
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile(field)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, media.ErrTooLarge
			}
			return nil, fmt.Errorf("%w: %s file is required", usecase.ErrInvalidInput, field)
		}
		src, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: unable to open %s", usecase.ErrInvalidInput, field)
		}
		defer src.Close()

		if data, err = media.ReadLimited(src); err != nil {
			return nil, err
		}
	} else {
		var body uploadRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, media.ErrTooLarge
			}
			return nil, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err)
		}
		value := body.Image
		if kind == media.KindAudio {
			value = body.Audio
		}
		if value == "" {
			return nil, fmt.Errorf("%w: %s is required", usecase.ErrInvalidInput, field)
		}

		var err error
		if data, err = media.DecodeDataURL(value); err != nil {
			return nil, err
		}
	}

	return media.Validate(kind, data)
}
