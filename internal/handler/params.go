package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autotrader/internal/repository"
)

type ParamsHandler struct {
	Repo repository.Repository
}

func (h *ParamsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/params", h.list)
	r.GET("/api/v1/params/updates", h.listUpdates)
}

func (h *ParamsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListParameterRecords(c.Request.Context(), strQueryPtr(c, "module"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *ParamsHandler) listUpdates(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListParameterUpdates(c.Request.Context(), repository.ListParameterUpdatesParams{
		Limit:      limit,
		Offset:     offset,
		ModuleName: strQueryPtr(c, "module"),
		Applied:    boolQueryPtr(c, "applied"),
		Since:      timeQueryPtr(c, "since"),
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
