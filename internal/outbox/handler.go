package outbox

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/errors"
)

// Enqueuer accepts new events. The batching engine is the production
// implementation.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error)
}

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	if errors.IsQueueFull(err) || errors.IsEnqueuePending(err) {
		c.Header("Retry-After", strconv.Itoa(constants.QueueFullRetryAfterSeconds))
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

type Handler struct {
	BaseHandler
	enqueuer       Enqueuer
	enqueueTimeout time.Duration
}

type HandlerOption func(*Handler)

// WithEnqueueTimeout bounds how long CreateMessage waits for its flush. It
// must end before the server's write deadline so the caller always gets
// the message_id back.
func WithEnqueueTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.enqueueTimeout = d
	}
}

func NewHandler(service Service, enqueuer Enqueuer, log logger.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
		enqueuer: enqueuer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the API. enqueueMiddleware runs only in front of
// message creation (rate limiting).
func (h *Handler) RegisterRoutes(router *gin.Engine, enqueueMiddleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", append(enqueueMiddleware, h.CreateMessage)...)
			messages.GET("", h.ListMessages)
			messages.GET("/:id", h.GetMessage)
			messages.POST("/:id/acknowledge", h.Acknowledge)
		}

		v1.GET("/stats", h.GetStats)
	}
}

// CreateMessage godoc
// @Summary      Enqueue a message
// @Description  Creates one outbox row per active consumer group of the topic
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        message  body      EnqueueRequest  true  "Message"
// @Success      202      {object}  EnqueueResult
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /messages [post]
func (h *Handler) CreateMessage(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := c.Request.Context()
	if h.enqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.enqueueTimeout)
		defer cancel()
	}

	result, err := h.enqueuer.Enqueue(ctx, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// Acknowledge godoc
// @Summary      Acknowledge a delivered message
// @Description  Records a consumer group's success or failure for one message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        id   path      string              true  "Message ID"
// @Param        ack  body      AcknowledgeRequest  true  "Acknowledgment"
// @Success      200  {object}  AcknowledgeResponse
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /messages/{id}/acknowledge [post]
func (h *Handler) Acknowledge(c *gin.Context) {
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	req.MessageID = c.Param("id")

	resp, err := h.Service.Acknowledge(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetMessage godoc
// @Summary      Get a message
// @Tags         messages
// @Produce      json
// @Param        id   path      string  true  "Message ID"
// @Success      200  {object}  Message
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /messages/{id} [get]
func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.Service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ListMessages godoc
// @Summary      List messages by status
// @Tags         messages
// @Produce      json
// @Param        status  query     string  true   "Pending, Sent, Acknowledged, Failed or Expired"
// @Param        limit   query     int     false  "Maximum rows"
// @Success      200     {array}   Message
// @Failure      400     {object}  errors.ErrorResponse
// @Router       /messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	status, err := ParseStatus(c.Query("status"))
	if err != nil {
		h.HandleError(c, errors.ErrValidation.WithMessage(err.Error()))
		return
	}

	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			h.HandleError(c, errors.ErrValidation.WithMessage("limit must be an integer"))
			return
		}
	}

	msgs, err := h.Service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// GetStats godoc
// @Summary      Outbox row counts per status
// @Tags         messages
// @Produce      json
// @Success      200  {object}  Stats
// @Router       /stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.Service.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
