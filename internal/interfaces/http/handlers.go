package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/school-liquidation/internal/application/workflow"
	"github.com/garyjia/school-liquidation/internal/domain/entity"
	domainwf "github.com/garyjia/school-liquidation/internal/domain/workflow"
)

// ActorHeader carries the authenticated user id set by the fronting gateway
const ActorHeader = "X-Actor-ID"

const (
	actorIDKey = "actor_id"
	actorKey   = "actor"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// RequestView is a request with its target month spelled out
type RequestView struct {
	*entity.Request
	TargetMonth string `json:"target_month"`
}

// DownloadView is the outcome of a download
type DownloadView struct {
	Request     RequestView         `json:"request"`
	Liquidation *entity.Liquidation `json:"liquidation"`
}

// TickView summarizes a daily tick
type TickView struct {
	Reclassified     int   `json:"reclassified"`
	Deferred         int   `json:"deferred"`
	RefreshedLiqs    int   `json:"refreshed_liquidations"`
	Released         int64 `json:"released_claims"`
	Ensured          int   `json:"ensured_ladders"`
	BudgetNoticeSent bool  `json:"budget_notice_sent"`
	ItemFailures     int   `json:"item_failures"`
}

// CreateRequestBody is the payload of POST /api/requests
type CreateRequestBody struct {
	UserID           string            `json:"user_id"`
	TargetMonth      string            `json:"target_month"`
	Items            []entity.LineItem `json:"items" binding:"required"`
	PreviousVersion  string            `json:"previous_version"`
	SkipAutoClassify bool              `json:"skip_auto_classify"`
}

// ItemsBody carries replacement line items
type ItemsBody struct {
	Items []entity.LineItem `json:"items"`
}

// CommentBody carries a reviewer comment
type CommentBody struct {
	Comment string `json:"comment"`
}

// UploadDocumentBody is the payload of a document upload
type UploadDocumentBody struct {
	CategoryID    string `json:"category_id" binding:"required"`
	RequirementID string `json:"requirement_id" binding:"required"`
	FileKey       string `json:"file_key" binding:"required"`
}

// ReviewDocumentBody is the payload of a document review
type ReviewDocumentBody struct {
	Status  entity.DocumentStatus `json:"status" binding:"required"`
	Comment string                `json:"comment"`
}

// TransitionBody names a liquidation trigger
type TransitionBody struct {
	Trigger string `json:"trigger" binding:"required"`
	Reason  string `json:"reason"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, detail := true, interface{}(nil)
	if h.deps.Health != nil {
		healthy, detail = h.deps.Health(c.Request.Context())
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, Response{
		Success: healthy,
		Data: gin.H{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"components": detail,
		},
	})
}

// ResolveActor loads the acting user from the directory
func (h *Handlers) ResolveActor(c *gin.Context) {
	id := c.GetHeader(ActorHeader)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Error: "missing " + ActorHeader + " header"})
		return
	}

	user, err := h.deps.Directory.GetUser(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to resolve actor", "actor_id", id, "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Response{Error: "directory unavailable"})
		return
	}
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Error: "unknown actor"})
		return
	}

	c.Set(actorIDKey, user.ID)
	c.Set(actorKey, domainwf.Actor{ID: user.ID, Role: user.Role})
	c.Next()
}

func actorFrom(c *gin.Context) domainwf.Actor {
	actor, _ := c.MustGet(actorKey).(domainwf.Actor)
	return actor
}

// CreateRequest handles POST /api/requests
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if !h.bind(c, &body) {
		return
	}

	input := workflow.CreateRequestInput{
		UserID:           body.UserID,
		Items:            body.Items,
		PreviousVersion:  body.PreviousVersion,
		SkipAutoClassify: body.SkipAutoClassify,
	}
	if body.TargetMonth != "" {
		month, err := entity.ParseMonth(body.TargetMonth)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
			return
		}
		input.TargetMonth = &month
	}

	req, err := h.deps.Engine.CreateRequest(c.Request.Context(), actorFrom(c), input)
	if err != nil {
		h.fail(c, "create request", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: requestView(req)})
}

// GetRequest handles GET /api/requests/:code
func (h *Handlers) GetRequest(c *gin.Context) {
	req, err := h.deps.Engine.GetRequest(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "get request", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: requestView(req)})
}

// ApproveRequest handles POST /api/requests/:code/approve
func (h *Handlers) ApproveRequest(c *gin.Context) {
	req, err := h.deps.Engine.ApproveRequest(c.Request.Context(), actorFrom(c), c.Param("code"))
	if err != nil {
		h.fail(c, "approve request", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: requestView(req)})
}

// RejectRequest handles POST /api/requests/:code/reject
func (h *Handlers) RejectRequest(c *gin.Context) {
	var body CommentBody
	if !h.bind(c, &body) {
		return
	}
	req, err := h.deps.Engine.RejectRequest(c.Request.Context(), actorFrom(c), c.Param("code"), body.Comment)
	if err != nil {
		h.fail(c, "reject request", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: requestView(req)})
}

// ResubmitRequest handles POST /api/requests/:code/resubmit. An empty body keeps the items.
func (h *Handlers) ResubmitRequest(c *gin.Context) {
	var body ItemsBody
	if c.Request.ContentLength != 0 && !h.bind(c, &body) {
		return
	}
	req, err := h.deps.Engine.ResubmitRequest(c.Request.Context(), actorFrom(c), c.Param("code"), body.Items)
	if err != nil {
		h.fail(c, "resubmit request", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: requestView(req)})
}

// DownloadRequest handles POST /api/requests/:code/download
func (h *Handlers) DownloadRequest(c *gin.Context) {
	req, liq, err := h.deps.Engine.DownloadRequest(c.Request.Context(), actorFrom(c), c.Param("code"))
	if err != nil {
		h.fail(c, "download request", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: DownloadView{Request: requestView(req), Liquidation: liq}})
}

// RequestHistory handles GET /api/requests/:code/history
func (h *Handlers) RequestHistory(c *gin.Context) {
	h.history(c, entity.EntityRequest)
}

// GetLiquidation handles GET /api/liquidations/:code
func (h *Handlers) GetLiquidation(c *gin.Context) {
	liq, err := h.deps.Engine.GetLiquidation(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "get liquidation", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: liq})
}

// SetLiquidationItems handles PUT /api/liquidations/:code/items
func (h *Handlers) SetLiquidationItems(c *gin.Context) {
	var body ItemsBody
	if !h.bind(c, &body) {
		return
	}
	liq, err := h.deps.Engine.SetLiquidationItems(c.Request.Context(), actorFrom(c), c.Param("code"), body.Items)
	if err != nil {
		h.fail(c, "set liquidation items", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: liq})
}

// UploadDocument handles POST /api/liquidations/:code/documents
func (h *Handlers) UploadDocument(c *gin.Context) {
	var body UploadDocumentBody
	if !h.bind(c, &body) {
		return
	}
	version, err := h.deps.Engine.UploadDocument(c.Request.Context(), actorFrom(c), workflow.UploadDocumentInput{
		LiquidationCode: c.Param("code"),
		CategoryID:      body.CategoryID,
		RequirementID:   body.RequirementID,
		FileKey:         body.FileKey,
	})
	if err != nil {
		h.fail(c, "upload document", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: version})
}

// MissingDocuments handles GET /api/liquidations/:code/missing-documents
func (h *Handlers) MissingDocuments(c *gin.Context) {
	missing, err := h.deps.Engine.MissingDocuments(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, "list missing documents", err)
		return
	}
	if missing == nil {
		missing = []domainwf.MissingDocument{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: missing})
}

// FireLiquidation handles POST /api/liquidations/:code/transitions
func (h *Handlers) FireLiquidation(c *gin.Context) {
	var body TransitionBody
	if !h.bind(c, &body) {
		return
	}
	liq, err := h.deps.Engine.FireLiquidation(c.Request.Context(), actorFrom(c), c.Param("code"), domainwf.Trigger(body.Trigger), body.Reason)
	if err != nil {
		h.fail(c, "fire liquidation trigger", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: liq})
}

// LiquidationHistory handles GET /api/liquidations/:code/history
func (h *Handlers) LiquidationHistory(c *gin.Context) {
	h.history(c, entity.EntityLiquidation)
}

// ReviewDocument handles POST /api/documents/:id/review
func (h *Handlers) ReviewDocument(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid document id"})
		return
	}
	var body ReviewDocumentBody
	if !h.bind(c, &body) {
		return
	}
	if err := h.deps.Engine.ReviewDocument(c.Request.Context(), actorFrom(c), id, body.Status, body.Comment); err != nil {
		h.fail(c, "review document", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RunTick handles POST /api/tasks/tick. Only administrators may trigger it.
func (h *Handlers) RunTick(c *gin.Context) {
	if !actorFrom(c).HasRole(domainwf.RoleAdmin) {
		h.fail(c, "run tick", domainwf.ErrForbidden)
		return
	}

	report, err := h.deps.Tick.DailyTick(c.Request.Context())
	if report == nil {
		h.fail(c, "run tick", err)
		return
	}

	view := TickView{
		Reclassified:     report.Reclassified,
		Deferred:         report.Deferred,
		RefreshedLiqs:    report.RefreshedLiqs,
		BudgetNoticeSent: report.BudgetNoticeSent,
		ItemFailures:     report.ItemFailures,
	}
	if report.Recovered != nil {
		view.Released = report.Recovered.Released
		view.Ensured = report.Recovered.Ensured
	}

	resp := Response{Success: err == nil, Data: view}
	if err != nil {
		h.logger.Error("Daily tick finished with errors", "error", err)
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) history(c *gin.Context, entityType string) {
	records, err := h.deps.Engine.History(c.Request.Context(), entityType, c.Param("code"))
	if err != nil {
		h.fail(c, "list history", err)
		return
	}
	if records == nil {
		records = []*entity.TransitionRecord{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

func (h *Handlers) bind(c *gin.Context, body interface{}) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (h *Handlers) fail(c *gin.Context, op string, err error) {
	status, details := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "operation", op, "error", err)
	}
	c.JSON(status, Response{Error: err.Error(), Details: details})
}

func requestView(req *entity.Request) RequestView {
	return RequestView{Request: req, TargetMonth: req.TargetMonth.String()}
}
