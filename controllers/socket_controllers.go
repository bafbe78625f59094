package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeremiapane/table-sync/hub"
	"github.com/yeremiapane/table-sync/middlewares"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/services"
	"github.com/yeremiapane/table-sync/utils"
)

const (
	joinTimeout    = 10 * time.Second
	handlerTimeout = 15 * time.Second
)

var errJoinRequired = fmt.Errorf("%w: first message must be %s", models.ErrInvalidState, hub.EventClientJoined)

type SocketController struct {
	Session  *services.SessionService
	upgrader websocket.Upgrader
}

func NewSocketController(session *services.SessionService, allowedOrigins []string) *SocketController {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &SocketController{
		Session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

type joinPayload struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

type itemRef struct {
	ItemID uint `json:"itemId"`
}

type qtyPayload struct {
	ItemID   uint `json:"itemId"`
	Quantity int  `json:"quantity"`
}

type callStaffPayload struct {
	Message string `json:"message"`
}

// TableSocket -> WebSocket /ws/tables/:table_id
// Pesan pertama wajib CLIENT_JOINED {clientId, name}.
func (sc *SocketController) TableSocket(c *gin.Context) {
	tableID, err := strconv.ParseUint(c.Param("table_id"), 10, 64)
	if err != nil {
		utils.RespondBadRequest(c, errors.New("invalid table id"))
		return
	}

	ws, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Errorf("WebSocket upgrade failed for table %d: %v", tableID, err)
		return
	}
	conn := hub.NewWSConn(ws)
	defer conn.Close()

	conn.SetReadTimeout(joinTimeout)
	first, err := conn.ReadMessage()
	if err != nil {
		return
	}
	conn.SetReadTimeout(0)
	var join joinPayload
	if first.Type != hub.EventClientJoined || json.Unmarshal(first.Payload, &join) != nil {
		hub.SendTo(conn, services.ErrorMessage(errJoinRequired))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	_, err = sc.Session.JoinTable(ctx, uint(tableID), join.ClientID, join.Name, conn)
	cancel()
	if err != nil {
		hub.SendTo(conn, services.ErrorMessage(err))
		return
	}
	client := hub.ClientInfo{ClientID: join.ClientID, Name: join.Name}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		sc.Session.LeaveTable(ctx, uint(tableID), client.ClientID, conn)
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		err = sc.Dispatch(ctx, uint(tableID), client, conn, msg)
		cancel()
		if err != nil {
			hub.SendTo(conn, services.ErrorMessage(err))
		}
	}
}

// Dispatch menjalankan satu event client. Error dikembalikan untuk dikirim hanya
// ke socket pengirim.
func (sc *SocketController) Dispatch(ctx context.Context, tableID uint, client hub.ClientInfo, conn hub.Conn, msg hub.InboundMessage) error {
	switch msg.Type {
	case hub.EventAddItem:
		var in services.ItemInput
		if err := decodePayload(msg, &in); err != nil {
			return err
		}
		_, err := sc.Session.AddItem(ctx, tableID, client.Name, in)
		return err

	case hub.EventRemoveItem:
		var in itemRef
		if err := decodePayload(msg, &in); err != nil {
			return err
		}
		_, err := sc.Session.RemoveItem(ctx, tableID, in.ItemID)
		return err

	case hub.EventUpdateQty:
		var in qtyPayload
		if err := decodePayload(msg, &in); err != nil {
			return err
		}
		_, err := sc.Session.UpdateQty(ctx, tableID, in.ItemID, in.Quantity)
		return err

	case hub.EventStartConfirmation:
		result, err := sc.Session.StartConfirmation(ctx, tableID, client.ClientID, client.Name)
		if errors.Is(err, models.ErrRoundActive) {
			// putaran yang sudah berjalan dikembalikan apa adanya
			return hub.SendTo(conn, hub.Message{
				Type:    hub.EventConfirmationUpdated,
				Payload: services.RoundView{Round: result.Round, Pending: result.Round.Pending()},
			})
		}
		return err

	case hub.EventAckConfirmation:
		_, _, err := sc.Session.AckConfirmation(ctx, tableID, client.ClientID)
		return err

	case hub.EventCancelConfirmation:
		return sc.Session.CancelConfirmation(ctx, tableID, client.ClientID, client.Name)

	case hub.EventCallStaff:
		var in callStaffPayload
		if len(msg.Payload) > 0 {
			if err := decodePayload(msg, &in); err != nil {
				return err
			}
		}
		return sc.Session.CallStaff(ctx, tableID, client.ClientID, client.Name, in.Message)

	case hub.EventRequestPayment:
		var in services.PaymentRequestInput
		if err := decodePayload(msg, &in); err != nil {
			return err
		}
		if in.Method == "" {
			in.Method = models.PaymentMethodGateway
		}
		attempt, err := sc.Session.RequestPayment(ctx, tableID, client.Name, in)
		if err != nil {
			return err
		}
		return hub.SendTo(conn, hub.Message{Type: hub.EventPaymentAttempt, Payload: attempt})

	case hub.EventClientJoined:
		return fmt.Errorf("%w: already joined", models.ErrConflict)
	}
	return fmt.Errorf("%w: unknown event %q", models.ErrInvalidState, msg.Type)
}

func decodePayload(msg hub.InboundMessage, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s needs a payload", models.ErrInvalidState, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: invalid %s payload: %v", models.ErrInvalidState, msg.Type, err)
	}
	return nil
}

// AdminSocket -> WebSocket /ws/admin?token=
// Staff menerima ADMIN_TABLE_STATES, ADMIN_NOTIFICATION dan ADMIN_SPLIT_PAYMENTS_UPDATED.
func (sc *SocketController) AdminSocket(c *gin.Context) {
	restaurantID, err := middlewares.RestaurantID(c)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := sc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.ErrorLogger.Errorf("Admin WebSocket upgrade failed: %v", err)
		return
	}
	conn := hub.NewWSConn(ws)
	defer conn.Close()
	defer sc.Session.LeaveAdmin(restaurantID, conn)

	ctx, cancel := context.WithTimeout(c.Request.Context(), handlerTimeout)
	err = sc.Session.JoinAdmin(ctx, restaurantID, conn)
	cancel()
	if err != nil {
		hub.SendTo(conn, services.ErrorMessage(err))
		return
	}

	// Staff tidak mengirim event lewat socket ini; baca hanya untuk mendeteksi putus.
	for {
		if _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
