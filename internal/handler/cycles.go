package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autotrader/internal/repository"
)

type CyclesHandler struct {
	Repo repository.Repository
}

func (h *CyclesHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/cycles")
	g.GET("", h.list)
	g.GET("/latest", h.latest)
	r.GET("/api/v1/stats/daily", h.dailyStats)
}

func (h *CyclesHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListCycleSummariesParams{
		Limit:    limit,
		Offset:   offset,
		Degraded: boolQueryPtr(c, "degraded"),
		Since:    timeQueryPtr(c, "since"),
		OrderBy:  "started_at",
		Asc:      boolPtr(false),
	}
	items, err := h.Repo.ListCycleSummaries(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountCycleSummaries(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *CyclesHandler) latest(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetLatestCycleSummary(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "no cycles recorded yet", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *CyclesHandler) dailyStats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListModuleDailyStats(c.Request.Context(), repository.ListDailyStatsParams{
		Limit:      intQuery(c, "limit", 200),
		Offset:     intQuery(c, "offset", 0),
		ModuleName: strQueryPtr(c, "module"),
		Since:      timeQueryPtr(c, "since"),
		Until:      timeQueryPtr(c, "until"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
