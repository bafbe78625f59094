package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

// OrderController berisi aksi staff terhadap order yang sedang berjalan.
type OrderController struct {
	Session *services.SessionService
}

func NewOrderController(session *services.SessionService) *OrderController {
	return &OrderController{Session: session}
}

// UpdateItemState -> dapur/pelayan mengubah status item
func (oc *OrderController) UpdateItemState(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok {
		return
	}
	itemID, ok := parseID(c, "item_id")
	if !ok || !authorizeOrder(c, oc.Session, orderID) {
		return
	}
	var body struct {
		State string `json:"state" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondBadRequest(c, err)
		return
	}

	order, err := oc.Session.UpdateItemState(c.Request.Context(), orderID, itemID, body.State)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.InfoLogger.Printf("Order %d item %d -> %s", orderID, itemID, body.State)
	utils.RespondJSON(c, http.StatusOK, "Item state updated", order)
}

// CloseOrder -> tutup order; meja siap untuk tamu berikutnya
func (oc *OrderController) CloseOrder(c *gin.Context) {
	orderID, ok := parseID(c, "order_id")
	if !ok || !authorizeOrder(c, oc.Session, orderID) {
		return
	}
	order, err := oc.Session.CloseOrder(c.Request.Context(), orderID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order closed", order)
}

// AddStaffItem -> staff menambahkan item ke meja; item ditagih per item
func (oc *OrderController) AddStaffItem(c *gin.Context) {
	tableID, ok := parseID(c, "table_id")
	if !ok || !authorizeTable(c, oc.Session, tableID) {
		return
	}
	var in services.ItemInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.RespondBadRequest(c, err)
		return
	}

	order, err := oc.Session.AddStaffItem(c.Request.Context(), tableID, in)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Item added", order)
}
