// Admin HTTP handler.
//
// GET /api/admin/orders lists recent orders for the operator dashboard. The
// route sits behind middleware.AdminAuth; this handler only shapes the
// listing. A weak ETag derived from row count and latest update allows cheap
// dashboard polling.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resellplug/storefront-backend/internal/domain"
	"github.com/resellplug/storefront-backend/internal/repo"
	"github.com/resellplug/storefront-backend/internal/utils"
)

// AdminOrdersResponse wraps the admin order listing.
type AdminOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// AdminOrders godoc
// @ID          adminOrders
// @Summary     List recent orders
// @Description Returns up to `limit` orders, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Token header string false "Admin token (or ?token= query)"
// @Param       If-None-Match header string false "Return 304 if ETag matches"
// @Param       limit query int false "Maximum rows to return" minimum(1)
// @Success     200 {object} handlers.AdminOrdersResponse
// @Header      200 {string} ETag "Weak ETag for current result"
// @Success     304 {string} string "Not Modified"
// @Failure     401 {object} handlers.ErrorResponse "Invalid admin token"
// @Failure     500 {object} handlers.ErrorResponse "Internal error"
// @Router      /admin/orders [get]
func (h *Handlers) AdminOrders(c *gin.Context) {
	ctx := c.Request.Context()

	limit := utils.AtoiDefault(c.Query("limit"), h.adminMaxOrders)
	if limit < 1 {
		limit = 1
	}
	if limit > h.adminMaxOrders {
		limit = h.adminMaxOrders
	}

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.OrdersStats(ctx, h.db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"orders:%d:%d:%d"`, count, ts, limit)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	orders, err := h.svc.ListRecent(ctx, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	ok(c, http.StatusOK, AdminOrdersResponse{Orders: orders})
}
