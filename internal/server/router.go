package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/zkvault/backend/internal/auth"
	"github.com/zkvault/backend/internal/upload"
	"github.com/zkvault/backend/internal/users"
)

const (
	apiPrefix        = "/api/v1"
	userIDContextKey = "zkvault_user_id"
)

var (
	errMissingAccounts      = errors.New("account service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUploadService = errors.New("upload service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// AccountService is the slice of the users service the router needs.
type AccountService interface {
	Register(ctx context.Context, email, password string) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	GetActive(ctx context.Context, userID string) (users.User, error)
	RegisterDevice(ctx context.Context, userID, name string) (users.Device, error)
}

// TokenManager issues and validates the backend's JWTs.
type TokenManager interface {
	IssueTokenPair(userID string) (auth.TokenPair, error)
	ValidateToken(token, expectedType string) (string, error)
}

// Dependencies wires the router to its collaborators.
type Dependencies struct {
	Accounts      AccountService
	TokenManager  TokenManager
	UploadService *upload.Service
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin handler for the backup API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UploadService == nil {
		return nil, errMissingUploadService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts: deps.Accounts,
		tokens:   deps.TokenManager,
		uploads:  deps.UploadService,
		logger:   logger,
	}

	api := router.Group(apiPrefix)
	api.GET("/healthz", handler.handleHealthz)
	api.POST("/auth/register", handler.handleRegister)
	api.POST("/auth/login", handler.handleLogin)
	api.POST("/auth/refresh", handler.handleRefresh)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/devices", handler.handleRegisterDevice)
	protected.POST("/upload/init", handler.handleUploadInit)
	protected.PUT("/upload/:id/chunk/:index", handler.handleUploadChunk)
	protected.GET("/upload/:id/chunk/:index", handler.handleDownloadChunk)
	protected.POST("/upload/:id/complete", handler.handleUploadComplete)
	protected.GET("/upload/:id/status", handler.handleUploadStatus)

	return router, nil
}

type httpHandler struct {
	accounts AccountService
	tokens   TokenManager
	uploads  *upload.Service
	logger   *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponsePayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, users.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("account registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	h.respondWithTokens(c, user.ID)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		case errors.Is(err, users.ErrAccountDisabled):
			c.JSON(http.StatusForbidden, gin.H{"error": "account_disabled"})
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	h.respondWithTokens(c, user.ID)
}

type refreshRequestPayload struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	var request refreshRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userID, err := h.tokens.ValidateToken(request.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		h.logger.Info("refresh token rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// The account must still exist and be active at exchange time.
	user, err := h.accounts.GetActive(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUnknownUser) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("refresh lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	h.respondWithTokens(c, user.ID)
}

func (h *httpHandler) respondWithTokens(c *gin.Context, userID string) {
	pair, err := h.tokens.IssueTokenPair(userID)
	if err != nil {
		h.logger.Error("failed to issue token pair", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    "Bearer",
	})
}

type deviceRequestPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleRegisterDevice(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request deviceRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	device, err := h.accounts.RegisterDevice(c.Request.Context(), userID, request.Name)
	if err != nil {
		if errors.Is(err, users.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("device registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"device_id": device.ID})
}

type uploadInitPayload struct {
	FileHash      string `json:"file_hash"`
	EncryptedSize int64  `json:"encrypted_size"`
	ChunkCount    int    `json:"chunk_count"`
	DeviceID      string `json:"device_id"`
}

type uploadInitResponsePayload struct {
	UploadID      string `json:"upload_id"`
	AlreadyExists bool   `json:"already_exists"`
}

func (h *httpHandler) handleUploadInit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request uploadInitPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.uploads.Init(c.Request.Context(), upload.InitRequest{
		UserID:        userID,
		DeviceID:      request.DeviceID,
		FileHash:      request.FileHash,
		EncryptedSize: request.EncryptedSize,
		ChunkCount:    request.ChunkCount,
	})
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadInitResponsePayload{
		UploadID:      result.UploadID,
		AlreadyExists: result.AlreadyExists,
	})
}

func (h *httpHandler) handleUploadChunk(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	uploadID := c.Param("id")

	chunkIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_chunk_index"})
		return
	}

	// Bound the body read one byte past the limit so the service can
	// distinguish "exactly at the limit" from "over it"; anything larger
	// is cut off here without buffering the whole payload.
	limited := http.MaxBytesReader(c.Writer, c.Request.Body, h.uploads.MaxChunkBytes()+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	receipt, err := h.uploads.WriteChunk(c.Request.Context(), userID, uploadID, chunkIndex, body)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"chunk_index": receipt.ChunkIndex,
		"chunk_hash":  receipt.ChunkHash,
	})
}

func (h *httpHandler) handleDownloadChunk(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	uploadID := c.Param("id")

	chunkIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_chunk_index"})
		return
	}

	data, err := h.uploads.ReadChunk(c.Request.Context(), userID, uploadID, chunkIndex)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *httpHandler) handleUploadComplete(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	uploadID := c.Param("id")

	status, err := h.uploads.Complete(c.Request.Context(), userID, uploadID)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

func (h *httpHandler) handleUploadStatus(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	uploadID := c.Param("id")

	status, err := h.uploads.Status(c.Request.Context(), userID, uploadID)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id":       status.UploadID,
		"status":          string(status.Status),
		"chunks_received": status.ReceivedChunks,
	})
}

// writeUploadError maps the upload error taxonomy onto HTTP statuses.
func (h *httpHandler) writeUploadError(c *gin.Context, err error) {
	var incomplete *upload.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "incomplete_upload",
			"expected": incomplete.Expected,
			"actual":   incomplete.Actual,
		})
	case errors.Is(err, upload.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, upload.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, upload.ErrInvalidChunkIndex):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_chunk_index"})
	case errors.Is(err, upload.ErrChunkTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk_too_large"})
	case errors.Is(err, upload.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("upload request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token, auth.TokenTypeAccess)
	if err != nil {
		// Expired tokens are routine client behavior, not an anomaly.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
