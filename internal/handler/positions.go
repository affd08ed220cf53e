package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"autotrader/internal/repository"
)

type PositionsHandler struct {
	Repo repository.Repository
}

func (h *PositionsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/positions", h.list)
	r.GET("/api/v1/portfolio/snapshots", h.snapshots)
}

func (h *PositionsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListPositionsParams{
		Limit:      limit,
		Offset:     offset,
		Status:     strQueryPtr(c, "status"),
		ModuleName: strQueryPtr(c, "module"),
		AssetClass: strQueryPtr(c, "asset_class"),
		OrderBy:    "opened_at",
		Asc:        boolPtr(false),
	}
	items, err := h.Repo.ListPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountPositions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *PositionsHandler) snapshots(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListPortfolioSnapshots(c.Request.Context(), repository.ListPortfolioSnapshotsParams{
		Limit:  intQuery(c, "limit", 200),
		Offset: intQuery(c, "offset", 0),
		Since:  timeQueryPtr(c, "since"),
		Until:  timeQueryPtr(c, "until"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
