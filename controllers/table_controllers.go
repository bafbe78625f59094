package controllers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/middlewares"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

type TableController struct {
	Session *services.SessionService
}

func NewTableController(session *services.SessionService) *TableController {
	return &TableController{Session: session}
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		utils.RespondBadRequest(c, fmt.Errorf("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

// authorizeTable dan authorizeOrder membatasi route staff ke restoran di token.
func authorizeTable(c *gin.Context, session *services.SessionService, tableID uint) bool {
	restaurantID, err := middlewares.RestaurantID(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return false
	}
	if err := session.AuthorizeTable(c.Request.Context(), restaurantID, tableID); err != nil {
		utils.RespondError(c, err)
		return false
	}
	return true
}

func authorizeOrder(c *gin.Context, session *services.SessionService, orderID uint) bool {
	restaurantID, err := middlewares.RestaurantID(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return false
	}
	if err := session.AuthorizeOrder(c.Request.Context(), restaurantID, orderID); err != nil {
		utils.RespondError(c, err)
		return false
	}
	return true
}

// GetTableState -> state lengkap meja untuk client yang reconnect
func (tc *TableController) GetTableState(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	state, err := tc.Session.TableState(c.Request.Context(), tableID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table state", state)
}

// RequestPayment -> buat percobaan pembayaran untuk satu atau beberapa obligation key
func (tc *TableController) RequestPayment(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok {
		return
	}
	var body struct {
		services.PaymentRequestInput
		RequestedBy string `json:"requestedBy"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondBadRequest(c, err)
		return
	}

	attempt, err := tc.Session.RequestPayment(c.Request.Context(), tableID, body.RequestedBy, body.PaymentRequestInput)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Payment requested", attempt)
}

// GetObligations -> tabel tagihan per pembayar untuk sebuah order
func (tc *TableController) GetObligations(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	table, err := tc.Session.Obligations(c.Request.Context(), orderID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Obligations", table)
}

// GetAdminTableStates -> ringkasan semua meja restoran staff
func (tc *TableController) GetAdminTableStates(c *gin.Context) {
	restaurantID, err := middlewares.RestaurantID(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	states, err := tc.Session.AdminTableStates(c.Request.Context(), restaurantID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", states)
}

// GetReceipt -> struk satu pembayar, ?key=p:Ana atau ?key=i:42
func (tc *TableController) GetReceipt(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	key, err := models.DecodeObligationKey(c.Query("key"))
	if err != nil {
		utils.RespondBadRequest(c, err)
		return
	}
	receipt, err := tc.Session.Receipt(c.Request.Context(), orderID, key)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Receipt", receipt)
}
