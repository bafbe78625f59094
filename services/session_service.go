package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-sync/hub"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
	"github.com/yeremiapane/table-sync/utils"
)

var ErrGatewayUnavailable = fmt.Errorf("%w: payment gateway is not configured", models.ErrTransient)

var ErrItemLocked = fmt.Errorf("%w: item is already being prepared", models.ErrInvalidState)

// TableState adalah state lengkap sebuah meja, dikirim sebagai INITIAL_STATE
// dan dipakai client untuk sinkron ulang setelah reconnect.
type TableState struct {
	TableID      uint             `json:"tableId"`
	TableNumber  string           `json:"tableNumber"`
	Order        *models.Order    `json:"order"`
	Clients      []hub.ClientInfo `json:"clients"`
	Confirmation *RoundView       `json:"confirmation"`
	Payments     *ObligationTable `json:"payments"`
}

type AdminTableState struct {
	TableID            uint             `json:"tableId"`
	TableNumber        string           `json:"tableNumber"`
	OrderID            uint             `json:"orderId,omitempty"`
	OrderState         string           `json:"orderState,omitempty"`
	Total              models.Money     `json:"total"`
	Clients            []hub.ClientInfo `json:"clients"`
	ConfirmationActive bool             `json:"confirmationActive"`
	FullyPaid          bool             `json:"fullyPaid"`
}

type ItemInput struct {
	MenuID                uint   `json:"menuId" binding:"required"`
	Quantity              int    `json:"quantity" binding:"required,gt=0"`
	Notes                 string `json:"notes"`
	ExcludedIngredientIDs []uint `json:"excludedIngredientIds"`
}

type PaymentRequestInput struct {
	Keys   []models.ObligationKey `json:"keys" binding:"required,min=1"`
	Method string                 `json:"method" binding:"required,oneof=cash gateway"`
}

type PaymentAttempt struct {
	OrderID        uint                   `json:"orderId"`
	Method         string                 `json:"method"`
	Keys           []models.ObligationKey `json:"keys"`
	Amount         models.Money           `json:"amount"`
	CorrelationRef string                 `json:"correlationRef,omitempty"`
	Gateway        *ChargeResult          `json:"gateway,omitempty"`
}

// PaymentWebhook adalah bentuk umum webhook gateway.
type PaymentWebhook struct {
	PaymentID      string       `json:"paymentId" binding:"required"`
	CorrelationRef string       `json:"correlationRef" binding:"required"`
	Outcome        string       `json:"outcome" binding:"required"`
	Amount         models.Money `json:"amount"`
}

type PaymentsUpdatedPayload struct {
	TableID uint             `json:"tableId"`
	Table   *ObligationTable `json:"payments"`
}

// SessionService adalah satu-satunya pintu masuk handler HTTP/WebSocket.
// Setiap mutasi: simpan, hitung ulang total, ambil state terbaru, broadcast ke meja,
// lalu refresh scope admin.
type SessionService struct {
	repo          *repository.Repository
	hub           *hub.Hub
	confirmations *ConfirmationCoordinator
	payments      *PaymentService
	notifications *NotificationService
	gateway       PaymentGateway
	callTimeout   time.Duration
}

func NewSessionService(repo *repository.Repository, h *hub.Hub, confirmations *ConfirmationCoordinator,
	payments *PaymentService, notifications *NotificationService, gateway PaymentGateway) *SessionService {
	s := &SessionService{
		repo:          repo,
		hub:           h,
		confirmations: confirmations,
		payments:      payments,
		notifications: notifications,
		gateway:       gateway,
		callTimeout:   10 * time.Second,
	}
	confirmations.OnComplete = s.completeConfirmation
	confirmations.OnExpire = s.expireConfirmation
	return s
}

func tableLog(tableID uint) *logrus.Entry {
	return utils.InfoLogger.WithField("table_id", tableID)
}

// ---------------------------------------------------------------------------
// Koneksi
// ---------------------------------------------------------------------------

func (s *SessionService) JoinTable(ctx context.Context, tableID uint, clientID, name string, conn hub.Conn) (*TableState, error) {
	clientID = strings.TrimSpace(clientID)
	name = strings.TrimSpace(name)
	if clientID == "" || name == "" {
		return nil, fmt.Errorf("%w: clientId and name are required", models.ErrInvalidState)
	}
	if name == models.StaffOwnerLabel {
		return nil, fmt.Errorf("%w: reserved name", models.ErrInvalidState)
	}
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.GetOrCreateOpenOrder(ctx, tableID)
	if err != nil {
		return nil, err
	}

	snap := s.hub.JoinTable(tableID, order.ID, clientID, name, conn)
	state, err := s.tableState(ctx, table, order.ID)
	if err != nil {
		// handler tidak akan memanggil LeaveTable untuk join yang gagal
		if removed, _ := s.hub.LeaveTable(tableID, clientID, conn); removed {
			s.confirmations.OnDisconnect(tableID, clientID)
		}
		return nil, err
	}
	if err := hub.SendTo(conn, hub.Message{Type: hub.EventInitialState, Payload: state}); err != nil {
		tableLog(tableID).Warnf("Error sending initial state to %s: %v", clientID, err)
	}
	s.hub.Broadcast(tableID, hub.Message{
		Type: hub.EventClientJoined,
		Payload: map[string]interface{}{
			"client":  hub.ClientInfo{ClientID: clientID, Name: name},
			"clients": snap.Clients,
		},
	}, conn)
	s.refreshAdmin(ctx, table.RestaurantID)

	tableLog(tableID).WithField("client_id", clientID).Info("Client joined table")
	return state, nil
}

func (s *SessionService) LeaveTable(ctx context.Context, tableID uint, clientID string, conn hub.Conn) {
	removed, closed := s.hub.LeaveTable(tableID, clientID, conn)
	if removed {
		s.confirmations.OnDisconnect(tableID, clientID)
		s.hub.Broadcast(tableID, hub.Message{
			Type: hub.EventClientLeft,
			Payload: map[string]interface{}{
				"clientId": clientID,
				"clients":  s.hub.Clients(tableID),
			},
		}, nil)
	}
	tableLog(tableID).WithFields(logrus.Fields{
		"client_id":      clientID,
		"session_closed": closed,
	}).Info("Client left table")

	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		utils.ErrorLogger.Errorf("Error loading table %d after leave: %v", tableID, err)
		return
	}
	s.refreshAdmin(ctx, table.RestaurantID)
}

func (s *SessionService) JoinAdmin(ctx context.Context, restaurantID uint, conn hub.Conn) error {
	s.hub.JoinAdmin(restaurantID, conn)
	states, err := s.AdminTableStates(ctx, restaurantID)
	if err != nil {
		return err
	}
	return hub.SendTo(conn, hub.Message{Type: hub.EventAdminTableStates, Payload: map[string]interface{}{"tables": states}})
}

func (s *SessionService) LeaveAdmin(restaurantID uint, conn hub.Conn) {
	s.hub.LeaveAdmin(restaurantID, conn)
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func (s *SessionService) TableState(ctx context.Context, tableID uint) (*TableState, error) {
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.OpenOrder(ctx, tableID)
	if errors.Is(err, models.ErrNotFound) {
		return &TableState{TableID: table.ID, TableNumber: table.TableNumber, Clients: s.hub.Clients(tableID)}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.tableState(ctx, table, order.ID)
}

func (s *SessionService) tableState(ctx context.Context, table *models.Table, orderID uint) (*TableState, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ObligationTable(ctx, orderID)
	if err != nil {
		return nil, err
	}
	state := &TableState{
		TableID:     table.ID,
		TableNumber: table.TableNumber,
		Order:       order,
		Clients:     s.hub.Clients(table.ID),
		Payments:    payments,
	}
	if round, ok := s.confirmations.Active(table.ID); ok {
		view := viewOf(round)
		state.Confirmation = &view
	}
	return state, nil
}

func (s *SessionService) AdminTableStates(ctx context.Context, restaurantID uint) ([]AdminTableState, error) {
	tables, err := s.repo.ListTables(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	states := make([]AdminTableState, 0, len(tables))
	for _, table := range tables {
		st := AdminTableState{
			TableID:     table.ID,
			TableNumber: table.TableNumber,
			Clients:     s.hub.Clients(table.ID),
		}
		if st.Clients == nil {
			st.Clients = []hub.ClientInfo{}
		}
		_, st.ConfirmationActive = s.confirmations.Active(table.ID)

		order, err := s.repo.OpenOrder(ctx, table.ID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		if order != nil {
			st.OrderID = order.ID
			st.OrderState = order.State
			st.Total = order.Total
			if st.FullyPaid, err = s.payments.IsFullyPaid(ctx, order.ID); err != nil {
				return nil, err
			}
		}
		states = append(states, st)
	}
	return states, nil
}

// refreshAdmin mengirim ADMIN_TABLE_STATES ke semua socket staff restoran.
func (s *SessionService) refreshAdmin(ctx context.Context, restaurantID uint) {
	if s.hub.AdminConnections(restaurantID) == 0 {
		return
	}
	states, err := s.AdminTableStates(ctx, restaurantID)
	if err != nil {
		utils.ErrorLogger.Errorf("Error building admin table states for restaurant %d: %v", restaurantID, err)
		return
	}
	s.hub.BroadcastAdmin(restaurantID, hub.Message{Type: hub.EventAdminTableStates, Payload: map[string]interface{}{"tables": states}})
}

// afterOrderMutation mengambil order terbaru lalu melakukan kedua fan-out.
func (s *SessionService) afterOrderMutation(ctx context.Context, table *models.Table, orderID uint) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.hub.Broadcast(table.ID, hub.Message{Type: hub.EventOrderUpdated, Payload: order}, nil)
	s.refreshAdmin(ctx, table.RestaurantID)
	return order, nil
}

func (s *SessionService) tableForOrder(ctx context.Context, orderID uint) (*models.Table, *models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	table, err := s.repo.GetTable(ctx, order.TableID)
	if err != nil {
		return nil, nil, err
	}
	return table, order, nil
}

// AuthorizeTable memastikan meja milik restoran staff; meja restoran lain dianggap tidak ada.
func (s *SessionService) AuthorizeTable(ctx context.Context, restaurantID, tableID uint) error {
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if table.RestaurantID != restaurantID {
		return models.ErrTableNotFound
	}
	return nil
}

func (s *SessionService) AuthorizeOrder(ctx context.Context, restaurantID, orderID uint) error {
	table, _, err := s.tableForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if table.RestaurantID != restaurantID {
		return models.ErrOrderNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Item
// ---------------------------------------------------------------------------

func (s *SessionService) AddItem(ctx context.Context, tableID uint, ownerName string, in ItemInput) (*models.Order, error) {
	return s.addItem(ctx, tableID, ownerName, in)
}

// AddStaffItem dipakai staff untuk menambahkan item atas nama meja; item ini
// ditagih per item.
func (s *SessionService) AddStaffItem(ctx context.Context, tableID uint, in ItemInput) (*models.Order, error) {
	return s.addItem(ctx, tableID, models.StaffOwnerLabel, in)
}

func (s *SessionService) addItem(ctx context.Context, tableID uint, ownerLabel string, in ItemInput) (*models.Order, error) {
	if in.Quantity <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	product, err := s.repo.GetProduct(ctx, in.MenuID)
	if err != nil {
		return nil, err
	}
	if product.RestaurantID != table.RestaurantID {
		return nil, models.ErrProductNotFound
	}
	order, err := s.repo.GetOrCreateOpenOrder(ctx, tableID)
	if err != nil {
		return nil, err
	}
	s.hub.SetOrder(tableID, order.ID)
	if ownerLabel != models.StaffOwnerLabel {
		if err := s.ensureUnpaid(ctx, order.ID, models.ByParticipant(ownerLabel)); err != nil {
			return nil, err
		}
	}

	item := models.OrderItem{
		OrderID:               order.ID,
		MenuID:                product.ID,
		OwnerLabel:            ownerLabel,
		Quantity:              in.Quantity,
		UnitPrice:             product.Price,
		ExcludedIngredientIDs: in.ExcludedIngredientIDs,
		Notes:                 in.Notes,
		State:                 models.ItemStatePending,
	}
	if err := s.repo.CreateItem(ctx, &item); err != nil {
		return nil, err
	}
	return s.afterOrderMutation(ctx, table, order.ID)
}

// editableItem memastikan item masih pending; item yang sudah diproses dapur
// hanya bisa diubah staff lewat UpdateItemState.
func (s *SessionService) editableItem(ctx context.Context, tableID, itemID uint) (*models.Table, *models.Order, error) {
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.repo.OpenOrder(ctx, tableID)
	if err != nil {
		return nil, nil, err
	}
	item, err := s.repo.GetItem(ctx, order.ID, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.State != models.ItemStatePending {
		return nil, nil, ErrItemLocked
	}
	if err := s.ensureUnpaid(ctx, order.ID, models.KeyForItem(*item)); err != nil {
		return nil, nil, err
	}
	return table, order, nil
}

func (s *SessionService) ensureUnpaid(ctx context.Context, orderID uint, key models.ObligationKey) error {
	paid, err := s.payments.KeyPaid(ctx, orderID, key)
	if err != nil {
		return err
	}
	if paid {
		return fmt.Errorf("%w: %s", models.ErrAlreadyPaid, key)
	}
	return nil
}

func (s *SessionService) RemoveItem(ctx context.Context, tableID, itemID uint) (*models.Order, error) {
	table, order, err := s.editableItem(ctx, tableID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteItem(ctx, order.ID, itemID); err != nil {
		return nil, err
	}
	return s.afterOrderMutation(ctx, table, order.ID)
}

func (s *SessionService) UpdateQty(ctx context.Context, tableID, itemID uint, qty int) (*models.Order, error) {
	if qty <= 0 {
		return nil, models.ErrInvalidQuantity
	}
	table, order, err := s.editableItem(ctx, tableID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateItemQuantity(ctx, order.ID, itemID, qty); err != nil {
		return nil, err
	}
	return s.afterOrderMutation(ctx, table, order.ID)
}

// UpdateItemState dipakai staff (dapur/pelayan).
func (s *SessionService) UpdateItemState(ctx context.Context, orderID, itemID uint, state string) (*models.Order, error) {
	table, _, err := s.tableForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetItemState(ctx, orderID, itemID, state); err != nil {
		return nil, err
	}
	return s.afterOrderMutation(ctx, table, orderID)
}

// ---------------------------------------------------------------------------
// Konfirmasi grup
// ---------------------------------------------------------------------------

func (s *SessionService) StartConfirmation(ctx context.Context, tableID uint, clientID, name string) (StartResult, error) {
	order, err := s.repo.OpenOrder(ctx, tableID)
	if err != nil {
		return StartResult{}, err
	}
	// order yang sudah di dapur tetap bisa menerima ronde baru untuk item tambahan
	items, err := s.repo.GetItems(ctx, order.ID)
	if err != nil {
		return StartResult{}, err
	}
	hasPending := false
	for _, item := range items {
		if item.State == models.ItemStatePending && item.Billable() {
			hasPending = true
			break
		}
	}
	if !hasPending {
		return StartResult{}, models.ErrNoItems
	}
	return s.confirmations.Start(tableID, clientID, name)
}

func (s *SessionService) AckConfirmation(ctx context.Context, tableID uint, clientID string) (Round, bool, error) {
	return s.confirmations.Ack(tableID, clientID)
}

func (s *SessionService) CancelConfirmation(ctx context.Context, tableID uint, clientID, name string) error {
	_, err := s.confirmations.Cancel(tableID, hub.ClientInfo{ClientID: clientID, Name: name}, CancelReasonClient)
	return err
}

// completeConfirmation adalah efek samping putaran yang selesai; dipanggil tepat sekali.
func (s *SessionService) completeConfirmation(tableID uint, round Round) {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	log := tableLog(tableID).WithField("round_id", round.ID)
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		log.Errorf("Error loading table for confirmed round: %v", err)
		return
	}
	order, err := s.repo.OpenOrder(ctx, tableID)
	if err != nil {
		log.Errorf("Error loading order for confirmed round: %v", err)
		return
	}
	if err := s.repo.ConfirmOrder(ctx, order.ID); err != nil {
		log.Errorf("Error confirming order %d: %v", order.ID, err)
		s.hub.Broadcast(tableID, errorMessage(err), nil)
		return
	}
	order, err = s.repo.GetOrder(ctx, order.ID)
	if err != nil {
		log.Errorf("Error reloading order: %v", err)
		return
	}

	s.hub.Broadcast(tableID, hub.Message{
		Type:    hub.EventOrderConfirmed,
		Payload: map[string]interface{}{"order": order, "round": round},
	}, nil)

	names := make([]string, 0, len(round.Participants))
	for _, p := range round.Participants {
		names = append(names, p.Name)
	}
	orderID := order.ID
	s.notifications.Notify(ctx, table.RestaurantID, models.NotificationOrderConfirmed, tableID, &orderID,
		fmt.Sprintf("Table %s confirmed order #%d", table.TableNumber, order.ID),
		map[string]interface{}{"participants": names, "total": order.Total.String(), "initiator": round.InitiatorName})
	s.refreshAdmin(ctx, table.RestaurantID)
	log.WithField("order_id", order.ID).Info("Order sent to kitchen")
}

func (s *SessionService) expireConfirmation(tableID uint, round Round) {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		utils.ErrorLogger.Errorf("Error loading table %d for expired round: %v", tableID, err)
		return
	}
	s.notifications.Notify(ctx, table.RestaurantID, models.NotificationConfirmationExpire, tableID, nil,
		fmt.Sprintf("Table %s did not finish confirming their order", table.TableNumber),
		map[string]interface{}{"pending": round.Pending(), "initiator": round.InitiatorName})
	s.refreshAdmin(ctx, table.RestaurantID)
}

// ---------------------------------------------------------------------------
// Staff
// ---------------------------------------------------------------------------

func (s *SessionService) CallStaff(ctx context.Context, tableID uint, clientID, name, message string) error {
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	var orderID *uint
	if order, err := s.repo.OpenOrder(ctx, tableID); err == nil {
		orderID = &order.ID
	}
	text := fmt.Sprintf("%s at table %s is calling staff", name, table.TableNumber)
	if message != "" {
		text += ": " + message
	}
	return s.notifications.Notify(ctx, table.RestaurantID, models.NotificationCallStaff, tableID, orderID, text,
		map[string]interface{}{"clientId": clientID, "name": name})
}

func (s *SessionService) CloseOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	table, _, err := s.tableForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CloseOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if _, err := s.confirmations.Cancel(table.ID, hub.ClientInfo{}, CancelReasonOrderClosed); err != nil && !errors.Is(err, models.ErrNoActiveRound) {
		return nil, err
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.hub.SetOrder(table.ID, 0)
	s.hub.Broadcast(table.ID, hub.Message{Type: hub.EventOrderClosed, Payload: order}, nil)
	s.refreshAdmin(ctx, table.RestaurantID)
	tableLog(table.ID).WithField("order_id", orderID).Info("Order closed")
	return order, nil
}

func (s *SessionService) Notifications() *NotificationService {
	return s.notifications
}

// ---------------------------------------------------------------------------
// Pembayaran
// ---------------------------------------------------------------------------

func (s *SessionService) Obligations(ctx context.Context, orderID uint) (*ObligationTable, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.payments.ObligationTable(ctx, orderID)
}

func (s *SessionService) RequestPayment(ctx context.Context, tableID uint, requestedBy string, in PaymentRequestInput) (*PaymentAttempt, error) {
	table, err := s.repo.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.OpenOrder(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if in.Method == models.PaymentMethodGateway && s.gateway == nil {
		return nil, ErrGatewayUnavailable
	}
	quote, err := s.payments.Quote(ctx, order.ID, in.Keys)
	if err != nil {
		return nil, err
	}
	ref, _, err := s.payments.Reserve(ctx, quote, in.Method)
	if err != nil {
		return nil, err
	}

	attempt := &PaymentAttempt{
		OrderID:        order.ID,
		Method:         in.Method,
		Keys:           quote.Keys,
		Amount:         quote.Amount,
		CorrelationRef: ref,
	}
	log := tableLog(tableID).WithFields(logrus.Fields{"order_id": order.ID, "method": in.Method, "amount": quote.Amount.String()})

	if in.Method == models.PaymentMethodGateway {
		charge, err := s.gateway.Charge(ctx, ChargeRequest{
			GatewayOrderID: order.GatewayOrderID(uuid.NewString()[:8]),
			Amount:         quote.Amount,
			Description:    fmt.Sprintf("Table %s order #%d", table.TableNumber, order.ID),
		})
		if err != nil {
			log.Errorf("Gateway charge failed: %v", err)
			if ferr := s.payments.FailAttempt(ctx, ref); ferr != nil {
				utils.ErrorLogger.Errorf("Error failing payment attempt after gateway error: %v", ferr)
			}
			s.broadcastPayments(ctx, table, order.ID)
			return nil, err
		}
		if err := s.repo.AttachGatewayDetails(ctx, ref, charge.GatewayRef, charge.QRImageURL, charge.ExpiresAt); err != nil {
			return nil, err
		}
		attempt.Gateway = charge
	} else {
		keys := make([]string, 0, len(quote.Keys))
		for _, k := range quote.Keys {
			keys = append(keys, k.String())
		}
		orderID := order.ID
		s.notifications.Notify(ctx, table.RestaurantID, models.NotificationPaymentRequested, tableID, &orderID,
			fmt.Sprintf("Table %s wants to pay %s in cash", table.TableNumber, utils.FormatRupiah(quote.Amount)),
			map[string]interface{}{"keys": keys, "amount": quote.Amount.String(), "requestedBy": requestedBy})
	}

	log.Info("Payment requested")
	s.broadcastPayments(ctx, table, order.ID)
	return attempt, nil
}

func (s *SessionService) ConfirmCashPayment(ctx context.Context, orderID uint, key models.ObligationKey, staffID *uint) (*ObligationTable, error) {
	table, _, err := s.tableForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	record, err := s.payments.ConfirmCash(ctx, orderID, key, staffID)
	if err != nil {
		return nil, err
	}
	payments, err := s.afterPaymentSettled(ctx, table, orderID, record.Amount, key.String(), models.PaymentMethodCash)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// HandlePaymentWebhook menerapkan hasil gateway. Fan-out hanya terjadi bila ada transisi,
// sehingga webhook ganda tidak menghasilkan broadcast atau notifikasi kedua.
func (s *SessionService) HandlePaymentWebhook(ctx context.Context, hook PaymentWebhook) (*ReconcileResult, error) {
	result, err := s.payments.Reconcile(ctx, hook.CorrelationRef, hook.Outcome, hook.Amount, hook.PaymentID)
	if err != nil {
		return nil, err
	}
	if result.Status != ReconcileProcessed {
		return result, nil
	}
	table, _, err := s.tableForOrder(ctx, result.OrderID)
	if err != nil {
		return nil, err
	}

	if hook.Outcome != OutcomeApproved {
		s.broadcastPaymentTable(table, result.Table)
		s.refreshAdmin(ctx, table.RestaurantID)
		return result, nil
	}

	var amount models.Money
	labels := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		amount += rec.Amount
		labels = append(labels, rec.ObligationKey.String())
	}
	if _, err := s.afterPaymentSettledWithTable(ctx, table, result.OrderID, result.Table, amount, strings.Join(labels, ", "), models.PaymentMethodGateway); err != nil {
		return nil, err
	}
	return result, nil
}

// HandleGatewayNotification menerima notifikasi yang hanya membawa order id gateway
// (Midtrans) dan meneruskannya sebagai webhook biasa.
func (s *SessionService) HandleGatewayNotification(ctx context.Context, gatewayRef, transactionID, outcome string, amount models.Money) (*ReconcileResult, error) {
	records, err := s.repo.FindByGatewayRef(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}
	return s.HandlePaymentWebhook(ctx, PaymentWebhook{
		PaymentID:      transactionID,
		CorrelationRef: records[0].CorrelationRef,
		Outcome:        outcome,
		Amount:         amount,
	})
}

// Receipt menyusun struk untuk key yang sudah lunas.
func (s *SessionService) Receipt(ctx context.Context, orderID uint, key models.ObligationKey) (*models.Receipt, error) {
	table, order, err := s.tableForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var record *models.Payment
	for i := range payments {
		if payments[i].State == models.PaymentStatePaid && payments[i].ObligationKey == key {
			record = &payments[i]
			break
		}
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s has not paid", models.ErrInvalidState, key)
	}

	receipt := &models.Receipt{
		OrderID:          orderID,
		TableNumber:      table.TableNumber,
		Payer:            key,
		PayerLabel:       key.String(),
		Total:            record.Amount,
		PaymentMethod:    record.Method,
		PaymentReference: record.PaymentID,
		PaidAt:           record.PaidAt,
	}
	paidAt := record.UpdatedAt
	if record.PaidAt != nil {
		paidAt = *record.PaidAt
	}
	receipt.ReceiptNumber = fmt.Sprintf("RCP/%s/%06d", paidAt.Format("20060102"), record.ID)

	var menuIDs []uint
	for _, item := range order.OrderItems {
		if item.Billable() && models.KeyForItem(item) == key {
			menuIDs = append(menuIDs, item.MenuID)
		}
	}
	names, err := s.repo.MenuNames(ctx, menuIDs)
	if err != nil {
		return nil, err
	}
	for _, item := range order.OrderItems {
		if !item.Billable() || models.KeyForItem(item) != key {
			continue
		}
		receipt.Items = append(receipt.Items, models.ReceiptItem{
			MenuID:    item.MenuID,
			MenuName:  names[item.MenuID],
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.LineTotal(),
			Notes:     item.Notes,
		})
	}
	return receipt, nil
}

func (s *SessionService) afterPaymentSettled(ctx context.Context, table *models.Table, orderID uint, amount models.Money, payer, method string) (*ObligationTable, error) {
	payments, err := s.payments.ObligationTable(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.afterPaymentSettledWithTable(ctx, table, orderID, payments, amount, payer, method)
}

// afterPaymentSettledWithTable mengirim tabel tagihan ke meja dan staff, satu notifikasi
// staff, dan ORDER_PAID bila order sudah lunas.
func (s *SessionService) afterPaymentSettledWithTable(ctx context.Context, table *models.Table, orderID uint, payments *ObligationTable, amount models.Money, payer, method string) (*ObligationTable, error) {
	s.broadcastPaymentTable(table, payments)

	kind := models.NotificationPaymentReceived
	message := fmt.Sprintf("Table %s: %s paid %s by %s", table.TableNumber, payer, utils.FormatRupiah(amount), method)
	if payments.FullyPaid {
		kind = models.NotificationOrderPaid
		message = fmt.Sprintf("Table %s: order #%d is fully paid", table.TableNumber, orderID)
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		s.hub.Broadcast(table.ID, hub.Message{
			Type:    hub.EventOrderPaid,
			Payload: map[string]interface{}{"order": order, "payments": payments},
		}, nil)
	}
	oid := orderID
	s.notifications.Notify(ctx, table.RestaurantID, kind, table.ID, &oid, message,
		map[string]interface{}{"payer": payer, "amount": amount.String(), "method": method, "remaining": payments.Remaining.String()})
	s.refreshAdmin(ctx, table.RestaurantID)
	return payments, nil
}

func (s *SessionService) broadcastPayments(ctx context.Context, table *models.Table, orderID uint) {
	payments, err := s.payments.ObligationTable(ctx, orderID)
	if err != nil {
		utils.ErrorLogger.Errorf("Error building obligation table for order %d: %v", orderID, err)
		return
	}
	s.broadcastPaymentTable(table, payments)
	s.refreshAdmin(ctx, table.RestaurantID)
}

func (s *SessionService) broadcastPaymentTable(table *models.Table, payments *ObligationTable) {
	payload := PaymentsUpdatedPayload{TableID: table.ID, Table: payments}
	s.hub.Broadcast(table.ID, hub.Message{Type: hub.EventSplitPaymentsUpdated, Payload: payload}, nil)
	s.hub.BroadcastAdmin(table.RestaurantID, hub.Message{Type: hub.EventAdminSplitPaymentsUpdate, Payload: payload})
}

// errorMessage membuat pesan ERROR untuk dikirim ke socket pengirim.
func errorMessage(err error) hub.Message {
	return hub.Message{Type: hub.EventError, Payload: hub.ErrorPayload{Code: utils.ErrorCode(err), Message: err.Error()}}
}

// ErrorMessage diekspor untuk handler WebSocket.
func ErrorMessage(err error) hub.Message {
	return errorMessage(err)
}
