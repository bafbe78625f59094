package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-sync/hub"
	"github.com/yeremiapane/table-sync/hub/hubtest"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
	"github.com/yeremiapane/table-sync/services"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type socketFixture struct {
	ctx     context.Context
	ctrl    *SocketController
	session *services.SessionService
	table   *models.Table
	menu    *models.Menu
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.New(db)
	require.NoError(t, repo.Migrate())
	codec, err := services.NewCorrelationCodec("socket-test-secret")
	require.NoError(t, err)

	h := hub.New()
	session := services.NewSessionService(repo, h,
		services.NewConfirmationCoordinator(h, time.Minute),
		services.NewPaymentService(repo, codec),
		services.NewNotificationService(repo, h), nil)

	f := &socketFixture{
		ctx:     context.Background(),
		ctrl:    NewSocketController(session, []string{"*"}),
		session: session,
		table:   &models.Table{RestaurantID: 1, TableNumber: "A1"},
		menu:    &models.Menu{RestaurantID: 1, Name: "Es Teh", Price: models.NewMoney(8000, 0), Available: true},
	}
	require.NoError(t, db.Create(f.table).Error)
	require.NoError(t, db.Create(f.menu).Error)
	return f
}

func (f *socketFixture) join(t *testing.T, clientID, name string) (hub.ClientInfo, *hubtest.Conn) {
	t.Helper()
	conn := hubtest.NewConn()
	_, err := f.session.JoinTable(f.ctx, f.table.ID, clientID, name, conn)
	require.NoError(t, err)
	return hub.ClientInfo{ClientID: clientID, Name: name}, conn
}

func inbound(t *testing.T, eventType string, payload interface{}) hub.InboundMessage {
	t.Helper()
	msg := hub.InboundMessage{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Payload = raw
	}
	return msg
}

func TestDispatchAddItemBroadcasts(t *testing.T) {
	f := newSocketFixture(t)
	ana, anaConn := f.join(t, "c-ana", "Ana")
	_, bobConn := f.join(t, "c-bob", "Bob")

	err := f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn,
		inbound(t, hub.EventAddItem, gin.H{"menuId": f.menu.ID, "quantity": 2}))
	require.NoError(t, err)
	assert.Equal(t, 1, anaConn.Count(hub.EventOrderUpdated))
	assert.Equal(t, 1, bobConn.Count(hub.EventOrderUpdated))

	err = f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, hub.EventAddItem, nil))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	err = f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn,
		inbound(t, hub.EventAddItem, gin.H{"menuId": f.menu.ID, "quantity": 0}))
	assert.ErrorIs(t, err, models.ErrInvalidQuantity)
}

func TestDispatchStartConfirmationTwice(t *testing.T) {
	f := newSocketFixture(t)
	ana, anaConn := f.join(t, "c-ana", "Ana")
	f.join(t, "c-bob", "Bob")
	require.NoError(t, f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn,
		inbound(t, hub.EventAddItem, gin.H{"menuId": f.menu.ID, "quantity": 1})))

	require.NoError(t, f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, hub.EventStartConfirmation, nil)))
	assert.Equal(t, 1, anaConn.Count(hub.EventConfirmationStarted))

	anaConn.Reset()
	require.NoError(t, f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, hub.EventStartConfirmation, nil)))
	assert.Equal(t, 0, anaConn.Count(hub.EventConfirmationStarted))

	var view struct {
		Pending []string `json:"pending"`
	}
	require.True(t, anaConn.Last(hub.EventConfirmationUpdated, &view))
	assert.Equal(t, []string{"Bob"}, view.Pending)
}

func TestDispatchRejectsUnknownAndRepeatedJoin(t *testing.T) {
	f := newSocketFixture(t)
	ana, anaConn := f.join(t, "c-ana", "Ana")

	err := f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, "DANCE", nil))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	err = f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn,
		inbound(t, hub.EventClientJoined, gin.H{"clientId": "c-ana", "name": "Ana"}))
	assert.ErrorIs(t, err, models.ErrConflict)

	err = f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, hub.EventAckConfirmation, nil))
	assert.ErrorIs(t, err, models.ErrNoActiveRound)
}

func TestDispatchRequestPaymentRepliesToSender(t *testing.T) {
	f := newSocketFixture(t)
	ana, anaConn := f.join(t, "c-ana", "Ana")
	_, bobConn := f.join(t, "c-bob", "Bob")
	require.NoError(t, f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn,
		inbound(t, hub.EventAddItem, gin.H{"menuId": f.menu.ID, "quantity": 1})))

	err := f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, hub.EventRequestPayment, gin.H{
		"keys":   []gin.H{{"participant": "Ana"}},
		"method": "cash",
	}))
	require.NoError(t, err)

	var attempt services.PaymentAttempt
	require.True(t, anaConn.Last(hub.EventPaymentAttempt, &attempt))
	assert.Equal(t, models.NewMoney(8000, 0), attempt.Amount)
	assert.Equal(t, 0, bobConn.Count(hub.EventPaymentAttempt))
	assert.Equal(t, 1, bobConn.Count(hub.EventSplitPaymentsUpdated))

	// tanpa method dianggap gateway, yang tidak dikonfigurasi di sini
	err = f.ctrl.Dispatch(f.ctx, f.table.ID, ana, anaConn, inbound(t, hub.EventRequestPayment, gin.H{
		"keys": []gin.H{{"participant": "Ana"}},
	}))
	assert.ErrorIs(t, err, models.ErrTransient)
}

func dialTable(t *testing.T, srv *httptest.Server, tableID uint) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/ws/tables/%d", tableID)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readUntil(t *testing.T, ws *websocket.Conn, eventType string) hub.InboundMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg hub.InboundMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type == eventType {
			return msg
		}
	}
}

func TestTableSocketEndToEnd(t *testing.T) {
	f := newSocketFixture(t)
	r := gin.New()
	r.GET("/ws/tables/:table_id", f.ctrl.TableSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws := dialTable(t, srv, f.table.ID)
	require.NoError(t, ws.WriteJSON(hub.Message{
		Type:    hub.EventClientJoined,
		Payload: gin.H{"clientId": "c-ana", "name": "Ana"},
	}))
	initial := readUntil(t, ws, hub.EventInitialState)
	var state services.TableState
	require.NoError(t, json.Unmarshal(initial.Payload, &state))
	assert.Equal(t, "A1", state.TableNumber)

	require.NoError(t, ws.WriteJSON(hub.Message{
		Type:    hub.EventAddItem,
		Payload: gin.H{"menuId": f.menu.ID, "quantity": 3},
	}))
	updated := readUntil(t, ws, hub.EventOrderUpdated)
	var order models.Order
	require.NoError(t, json.Unmarshal(updated.Payload, &order))
	require.Len(t, order.OrderItems, 1)
	assert.Equal(t, "Ana", order.OrderItems[0].OwnerLabel)

	require.NoError(t, ws.WriteJSON(hub.Message{Type: "DANCE"}))
	failure := readUntil(t, ws, hub.EventError)
	var payload hub.ErrorPayload
	require.NoError(t, json.Unmarshal(failure.Payload, &payload))
	assert.Equal(t, "invalid_state", payload.Code)
}

func TestTableSocketRequiresJoinFirst(t *testing.T) {
	f := newSocketFixture(t)
	r := gin.New()
	r.GET("/ws/tables/:table_id", f.ctrl.TableSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws := dialTable(t, srv, f.table.ID)
	require.NoError(t, ws.WriteJSON(hub.Message{Type: hub.EventAddItem, Payload: gin.H{"menuId": f.menu.ID}}))
	msg := readUntil(t, ws, hub.EventError)

	var payload hub.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Contains(t, payload.Message, hub.EventClientJoined)
}
