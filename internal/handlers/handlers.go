package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/retina-grade/internal/auth"
	"github.com/example/retina-grade/internal/grading"
	"github.com/example/retina-grade/internal/imageprocessor"
	"github.com/example/retina-grade/internal/logging"
	"github.com/example/retina-grade/internal/repository"
	"github.com/example/retina-grade/internal/usecase"
)

// MaxUploadSize is the default limit for uploaded images.
const MaxUploadSize = 10 << 20

// multipart framing allowance on top of the file itself
const formOverhead = 1 << 20

// Predictor is the prediction surface used by the routes.
type Predictor interface {
	Predict(ctx context.Context, in usecase.PredictionInput) (*usecase.PredictionOutcome, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Accounts is the account surface used by the routes.
type Accounts interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (*usecase.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// Handler serves the HTTP API.
type Handler struct {
	predictor     Predictor
	accounts      Accounts
	maxUploadSize int64
	logger        *zap.Logger
}

// NewHandler builds a Handler; maxUploadSize <= 0 selects MaxUploadSize.
func NewHandler(predictor Predictor, accounts Accounts, maxUploadSize int64, logger *zap.Logger) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}
	return &Handler{
		predictor:     predictor,
		accounts:      accounts,
		maxUploadSize: maxUploadSize,
		logger:        logger.Named("handlers"),
	}
}

type credentials struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, h *Handler, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/register", h.register)
	router.POST("/login", h.login)

	gated := router.Group("/", authMiddleware)
	gated.POST("/logout", h.logout)
	gated.POST("/predict", h.predict)
	gated.GET("/metrics", h.metrics)
}

func (h *Handler) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	err := h.accounts.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"username": req.Username})
	case errors.Is(err, repository.ErrDuplicateUsername):
		writeError(c, http.StatusConflict, "duplicate_username", "username already exists")
	case errors.Is(err, usecase.ErrInvalidAccount):
		writeError(c, http.StatusBadRequest, "invalid_account", err.Error())
	default:
		h.logger.Error("registration failed", logging.ErrorFields(err)...)
		writeError(c, http.StatusInternalServerError, "internal", "registration could not be completed")
	}
}

func (h *Handler) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	session, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"token":      session.Token,
			"token_type": "Bearer",
			"expires_at": session.ExpiresAt,
		})
	case errors.Is(err, usecase.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
	default:
		h.logger.Error("login failed", logging.ErrorFields(err)...)
		writeError(c, http.StatusInternalServerError, "internal", "login could not be completed")
	}
}

func (h *Handler) logout(c *gin.Context) {
	sessionID, ok := auth.GetSessionID(c.Request.Context())
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	if err := h.accounts.Logout(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("logout failed", logging.ErrorFields(err)...)
		writeError(c, http.StatusInternalServerError, "internal", "logout could not be completed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+formOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(c, http.StatusRequestEntityTooLarge, "too_large", "image exceeds the upload limit")
			return
		}
		writeError(c, http.StatusBadRequest, string(grading.KindEmptyInput), "image file is required")
		return
	}
	if file.Size > h.maxUploadSize {
		writeError(c, http.StatusRequestEntityTooLarge, "too_large", "image exceeds the upload limit")
		return
	}

	src, err := file.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, string(grading.KindDecode), "unable to open image")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal", "failed to read image")
		return
	}

	userID, _ := auth.GetUserID(c.Request.Context())
	outcome, err := h.predictor.Predict(c.Request.Context(), usecase.PredictionInput{
		UserID:   userID,
		Filename: file.Filename,
		Data:     data,
	})
	if err != nil {
		writePredictionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":    outcome.RequestID,
		"label":         outcome.Result.Label,
		"confidence":    outcome.Result.Confidence,
		"probabilities": outcome.Probabilities.ByLabel(),
		"timings_ms": gin.H{
			"preprocess": outcome.Timings.Preprocess.Milliseconds(),
			"inference":  outcome.Timings.Inference.Milliseconds(),
			"total":      outcome.Timings.Total.Milliseconds(),
		},
	})
}

func (h *Handler) metrics(c *gin.Context) {
	summary, err := h.predictor.GetMetricsSummary(c.Request.Context())
	if err != nil {
		h.logger.Error("metrics unavailable", logging.ErrorFields(err)...)
		writeError(c, http.StatusServiceUnavailable, "metrics_unavailable", "metrics could not be loaded")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func writePredictionError(c *gin.Context, err error) {
	kind, ok := grading.KindOf(err)
	if !ok {
		kind = grading.KindInference
	}
	switch kind {
	case grading.KindEmptyInput:
		writeError(c, http.StatusBadRequest, string(kind), "no image was supplied")
	case grading.KindDecode:
		status := http.StatusUnprocessableEntity
		if errors.Is(err, imageprocessor.ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		writeError(c, status, string(kind), "your image could not be read, please upload a JPEG, PNG, GIF, BMP, TIFF or WebP file")
	default:
		writeError(c, http.StatusInternalServerError, string(kind), "the system could not complete the prediction")
	}
}

func writeError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": message})
}
