package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autotrader/internal/repository"
)

type TradesHandler struct {
	Repo repository.Repository
}

func (h *TradesHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/trades", h.list)
	r.GET("/api/v1/opportunities", h.listOpportunities)
}

func (h *TradesHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListTradeResultsParams{
		Limit:      limit,
		Offset:     offset,
		ModuleName: strQueryPtr(c, "module"),
		Symbol:     strQueryPtr(c, "symbol"),
		Kind:       strQueryPtr(c, "kind"),
		Status:     strQueryPtr(c, "status"),
		Since:      timeQueryPtr(c, "since"),
		Until:      timeQueryPtr(c, "until"),
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListTradeResults(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountTradeResults(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *TradesHandler) listOpportunities(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOpportunitiesParams{
		Limit:      limit,
		Offset:     offset,
		ModuleName: strQueryPtr(c, "module"),
		Symbol:     strQueryPtr(c, "symbol"),
		Action:     strQueryPtr(c, "action"),
		Since:      timeQueryPtr(c, "since"),
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListOpportunities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOpportunities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}
