package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/forgelab/spawn-orchestrator/internal/auth"
	"github.com/forgelab/spawn-orchestrator/internal/models"
	"github.com/forgelab/spawn-orchestrator/internal/session"
	"github.com/forgelab/spawn-orchestrator/internal/store"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	sessions   *session.Manager
	spawnStore *store.SpawnStore
	jwtManager *auth.JWTManager
	pool       *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(sessions *session.Manager, spawnStore *store.SpawnStore, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	return &Handler{
		sessions:   sessions,
		spawnStore: spawnStore,
		jwtManager: jwtManager,
		pool:       pool,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	var userID string
	var hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&userID, &hashedPassword)

	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		userID,
		req.Email,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: userID,
	})
}

// Me godoc
// @Summary Current user
// @Description Return the authenticated user's info
// @Tags auth
// @Produce json
// @Success 200 {object} models.UserInfo
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return
	}
	username, _ := c.Get("username")
	email, _ := username.(string)

	c.JSON(http.StatusOK, models.UserInfo{
		ID:    userID.(string),
		Email: email,
	})
}

// CreateSpawnResponse represents a spawn session creation response
type CreateSpawnResponse struct {
	SpawnID string             `json:"spawn_id"`
	Status  models.SpawnStatus `json:"status"`
}

// CreateSpawn godoc
// @Summary Create spawn session
// @Description Start a new idle spawn session
// @Tags spawns
// @Produce json
// @Success 201 {object} CreateSpawnResponse
// @Security BearerAuth
// @Router /spawns [post]
func (h *Handler) CreateSpawn(c *gin.Context) {
	actor := h.sessions.Create()

	log.Printf(`{"level":"info","message":"Spawn session created","spawn_id":"%s"}`, actor.ID())

	c.JSON(http.StatusCreated, CreateSpawnResponse{
		SpawnID: actor.ID().String(),
		Status:  models.StatusIdle,
	})
}

// PostMessageRequest represents a conversational message to a session
type PostMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

// PostMessage godoc
// @Summary Send message to spawn session
// @Description Deliver a conversational message: a prompt, spec feedback, approval, or build feedback depending on session state
// @Tags spawns
// @Accept json
// @Produce json
// @Param id path string true "Spawn ID"
// @Param request body PostMessageRequest true "Message"
// @Success 202 {object} models.Snapshot
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /spawns/{id}/messages [post]
func (h *Handler) PostMessage(c *gin.Context) {
	actor := h.liveActor(c)
	if actor == nil {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	if !actor.Deliver(req.Message) {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: "Spawn is busy handling a previous message",
			Code:  models.ErrCodeSpawnBusy,
		})
		return
	}

	c.JSON(http.StatusAccepted, actor.Snapshot())
}

// ResetSpawn godoc
// @Summary Reset spawn session
// @Description Return the session to idle, discarding the spec, files and durable rows
// @Tags spawns
// @Produce json
// @Param id path string true "Spawn ID"
// @Success 202 {object} models.Snapshot
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /spawns/{id}/reset [post]
func (h *Handler) ResetSpawn(c *gin.Context) {
	actor := h.liveActor(c)
	if actor == nil {
		return
	}

	if !actor.Reset() {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: "Spawn is busy handling a previous message",
			Code:  models.ErrCodeSpawnBusy,
		})
		return
	}

	c.JSON(http.StatusAccepted, actor.Snapshot())
}

// GetSpawn godoc
// @Summary Get spawn state
// @Description Return the live snapshot for an active session, or the durable record for an evicted one
// @Tags spawns
// @Produce json
// @Param id path string true "Spawn ID"
// @Success 200 {object} models.Snapshot
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /spawns/{id} [get]
func (h *Handler) GetSpawn(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid spawn ID", Code: models.ErrCodeInvalidRequest})
		return
	}

	if actor := h.sessions.Get(id); actor != nil {
		c.JSON(http.StatusOK, actor.Snapshot())
		return
	}

	rec, err := h.spawnStore.GetSpawn(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Spawn not found", Code: models.ErrCodeNotFound})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// ListSpawns godoc
// @Summary List spawns
// @Description List all durable spawn records, newest first
// @Tags spawns
// @Produce json
// @Success 200 {array} models.SpawnRecord
// @Security BearerAuth
// @Router /spawns [get]
func (h *Handler) ListSpawns(c *gin.Context) {
	specs, err := h.spawnStore.ListSpawns(c.Request.Context())
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list spawns","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list spawns", Code: models.ErrCodeInternalError})
		return
	}

	if specs == nil {
		specs = []models.SpawnRecord{}
	}
	c.JSON(http.StatusOK, specs)
}

// GetSpawnFiles godoc
// @Summary Get generated files
// @Description Return the durable generated file rows for a spawn
// @Tags spawns
// @Produce json
// @Param id path string true "Spawn ID"
// @Success 200 {array} models.GeneratedFile
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /spawns/{id}/files [get]
func (h *Handler) GetSpawnFiles(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid spawn ID", Code: models.ErrCodeInvalidRequest})
		return
	}

	files, err := h.spawnStore.ListFiles(c.Request.Context(), id)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list files","spawn_id":"%s","error":"%v"}`, id, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list files", Code: models.ErrCodeInternalError})
		return
	}

	if files == nil {
		files = []models.GeneratedFile{}
	}
	c.JSON(http.StatusOK, files)
}

// liveActor resolves the path spawn id to a live session actor,
// writing the error response itself when resolution fails
func (h *Handler) liveActor(c *gin.Context) *session.Actor {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid spawn ID", Code: models.ErrCodeInvalidRequest})
		return nil
	}

	actor := h.sessions.Get(id)
	if actor == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Spawn not found", Code: models.ErrCodeNotFound})
		return nil
	}

	return actor
}
