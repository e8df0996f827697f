package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	per, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	filters, err := auditFilters(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Count: len(logs), Page: page, PerPage: per, Total: total})
}

// GET /api/audit/export
func (h *AuditHandler) Export(c *gin.Context) {
	filters, err := auditFilters(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	logs, err := h.svc.Export(requestContext(c), filters)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, logs)
}

func auditFilters(c *gin.Context) (services.AuditFilters, error) {
	filters := services.AuditFilters{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}

	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filters, errors.NewBadRequest("since must be an RFC3339 timestamp")
		}
		filters.Since = &t
	}
	if u := c.Query("until"); u != "" {
		t, err := time.Parse(time.RFC3339, u)
		if err != nil {
			return filters, errors.NewBadRequest("until must be an RFC3339 timestamp")
		}
		filters.Until = &t
	}
	return filters, nil
}
