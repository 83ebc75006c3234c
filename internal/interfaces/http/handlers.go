package http

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/service"
)

// ActorHeader carries the caller's identity. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

const maxBulkItems = 100

// Handlers contains all HTTP request handlers
type Handlers struct {
	requestService service.RequestService
	logger         Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(requestService service.RequestService, logger Logger) *Handlers {
	return &Handlers{
		requestService: requestService,
		logger:         logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// DecisionRequest is the body of an action call
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment"`
}

// BulkItem is one entry of a bulk action call
type BulkItem struct {
	RequestID int64  `json:"request_id"`
	Action    string `json:"action"`
	Decision  string `json:"decision"`
	Comment   string `json:"comment"`
}

// BulkRequest is the body of a bulk action call
type BulkRequest struct {
	Items []BulkItem `json:"items" binding:"required,min=1"`
}

// LinkRequest carries an emailed action link
type LinkRequest struct {
	Token    string `form:"token" json:"token"`
	Decision string `form:"decision" json:"decision"`
	Comment  string `form:"comment" json:"comment"`
}

// ListRequestsQuery represents query parameters for listing requests
type ListRequestsQuery struct {
	Status   string `form:"status"`
	AssetID  int64  `form:"asset_id"`
	Unbilled bool   `form:"unbilled"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

func (q ListRequestsQuery) filter() port.RequestFilter {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return port.RequestFilter{
		Status:   q.Status,
		AssetID:  q.AssetID,
		Unbilled: q.Unbilled,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// SubmitRequest handles POST /api/v1/requests
func (h *Handlers) SubmitRequest(c *gin.Context) {
	var in service.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if actor := c.GetHeader(ActorHeader); actor != "" {
		in.RequesterID = actor
	}

	req, err := h.requestService.Submit(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "submit", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}

	views, err := h.requestService.List(c.Request.Context(), q.filter(), c.GetHeader(ActorHeader))
	if err != nil {
		h.respondError(c, "list", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: views})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	view, err := h.requestService.GetResolved(c.Request.Context(), id, c.GetHeader(ActorHeader))
	if err != nil {
		h.respondError(c, "get", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: view})
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	history, err := h.requestService.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "history", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// ApplyAction handles POST /api/v1/requests/:id/actions/:action
func (h *Handlers) ApplyAction(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	var body DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	result, err := h.requestService.Apply(c.Request.Context(), service.ApplyInput{
		RequestID: id,
		Action:    c.Param("action"),
		ActorID:   c.GetHeader(ActorHeader),
		Decision:  body.Decision,
		Comment:   body.Comment,
	})
	if err != nil {
		h.respondError(c, "apply", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// ApplyBulk handles POST /api/v1/requests/bulk. Items fail independently.
func (h *Handlers) ApplyBulk(c *gin.Context) {
	var body BulkRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if len(body.Items) > maxBulkItems {
		h.badRequest(c, "too many items, max "+strconv.Itoa(maxBulkItems))
		return
	}

	actor := c.GetHeader(ActorHeader)
	items := make([]service.ApplyInput, len(body.Items))
	for i, it := range body.Items {
		items[i] = service.ApplyInput{
			RequestID: it.RequestID,
			Action:    it.Action,
			ActorID:   actor,
			Decision:  it.Decision,
			Comment:   it.Comment,
		}
	}

	results := h.requestService.ApplyBulk(c.Request.Context(), items)
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// PushToBilling handles POST /api/v1/requests/:id/billing
func (h *Handlers) PushToBilling(c *gin.Context) {
	id, ok := h.requestID(c)
	if !ok {
		return
	}

	result, err := h.requestService.PushToBilling(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "billing", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// PendingCounts handles GET /api/v1/requests/pending
func (h *Handlers) PendingCounts(c *gin.Context) {
	counts, err := h.requestService.PendingCounts(c.Request.Context())
	if err != nil {
		h.respondError(c, "pending", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"counts": counts,
			"total":  counts.Total(),
		},
	})
}

// ExportRequests handles GET /api/v1/requests/export.xlsx
func (h *Handlers) ExportRequests(c *gin.Context) {
	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	filter := q.filter()
	if c.Query("limit") == "" {
		filter.Limit = 0
	}

	var buf bytes.Buffer
	if err := h.requestService.Export(c.Request.Context(), filter, &buf); err != nil {
		h.respondError(c, "export", err)
		return
	}

	filename := "maintenance-requests-" + time.Now().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// AuthorizeLink handles POST /api/v1/links/authorize
func (h *Handlers) AuthorizeLink(c *gin.Context) {
	var body LinkRequest
	if err := c.ShouldBind(&body); err != nil {
		h.badRequest(c, "invalid link parameters")
		return
	}

	result, err := h.requestService.AuthorizeViaLink(c.Request.Context(), service.LinkInput{
		Token:    body.Token,
		Decision: body.Decision,
		Comment:  body.Comment,
	})
	if err != nil {
		h.respondError(c, "link", err)
		return
	}
	if linkDone(c, result) {
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

func (h *Handlers) requestID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid request id")
		return 0, false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   message,
		Reason:  "invalid_command",
	})
}
