package hub

import "encoding/json"

// Event dari client meja
const (
	EventAddItem            = "ADD_ITEM"
	EventRemoveItem         = "REMOVE_ITEM"
	EventUpdateQty          = "UPDATE_QTY"
	EventStartConfirmation  = "START_CONFIRMATION"
	EventAckConfirmation    = "ACK_CONFIRMATION"
	EventCancelConfirmation = "CANCEL_CONFIRMATION"
	EventCallStaff          = "CALL_STAFF"
	EventRequestPayment     = "REQUEST_PAYMENT"
)

// Event ke client meja
const (
	EventInitialState          = "INITIAL_STATE"
	EventClientJoined          = "CLIENT_JOINED"
	EventClientLeft            = "CLIENT_LEFT"
	EventOrderUpdated          = "ORDER_UPDATED"
	EventOrderConfirmed        = "ORDER_CONFIRMED"
	EventOrderClosed           = "ORDER_CLOSED"
	EventOrderPaid             = "ORDER_PAID"
	EventSplitPaymentsUpdated  = "SPLIT_PAYMENTS_UPDATED"
	EventConfirmationStarted   = "CONFIRMATION_STARTED"
	EventConfirmationUpdated   = "CONFIRMATION_UPDATED"
	EventConfirmationCancelled = "CONFIRMATION_CANCELLED"
	EventError                 = "ERROR"

	// hanya ke pengirim REQUEST_PAYMENT
	EventPaymentAttempt = "PAYMENT_ATTEMPT"
)

// Event ke staff (admin scope)
const (
	EventAdminNotification        = "ADMIN_NOTIFICATION"
	EventAdminTableStates         = "ADMIN_TABLE_STATES"
	EventAdminSplitPaymentsUpdate = "ADMIN_SPLIT_PAYMENTS_UPDATED"
)

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// InboundMessage adalah pesan dari client; payload didecode sesuai Type.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
