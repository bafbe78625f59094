package hub

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-sync/utils"
)

// Conn adalah satu socket yang bisa menerima pesan yang sudah diserialisasi.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type ClientInfo struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

type client struct {
	info   ClientInfo
	connID string
}

type tableSession struct {
	orderID uint
	clients map[string]*client
	joined  []string
	conns   map[string]Conn
}

// SessionSnapshot adalah salinan state sebuah meja; aman dibaca tanpa lock.
type SessionSnapshot struct {
	TableID     uint         `json:"tableId"`
	OrderID     uint         `json:"orderId"`
	Clients     []ClientInfo `json:"clients"`
	Connections int          `json:"connections"`
}

// Hub menyimpan socket yang hidup per meja dan per restoran (staff).
// Session dibuat saat koneksi pertama dan dibuang saat koneksi terakhir ditutup.
type Hub struct {
	mu     sync.Mutex
	tables map[uint]*tableSession
	admins map[uint]map[string]Conn
}

func New() *Hub {
	return &Hub{
		tables: make(map[uint]*tableSession),
		admins: make(map[uint]map[string]Conn),
	}
}

// JoinTable mendaftarkan client ke meja. Join ulang dengan clientID yang sama hanya
// mengganti socket-nya.
func (h *Hub) JoinTable(tableID, orderID uint, clientID, name string, conn Conn) SessionSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.tables[tableID]
	if !ok {
		session = &tableSession{
			clients: make(map[string]*client),
			conns:   make(map[string]Conn),
		}
		h.tables[tableID] = session
	}
	if orderID != 0 {
		session.orderID = orderID
	}
	session.conns[conn.ID()] = conn

	if c, exists := session.clients[clientID]; exists {
		c.info.Name = name
		c.connID = conn.ID()
	} else {
		session.clients[clientID] = &client{info: ClientInfo{ClientID: clientID, Name: name}, connID: conn.ID()}
		session.joined = append(session.joined, clientID)
	}
	return snapshot(tableID, session)
}

// LeaveTable selalu melepas socket. Client hanya dihapus bila socket tersebut masih
// socket aktifnya, sehingga socket lama dari join ulang tidak mengeluarkan client.
func (h *Hub) LeaveTable(tableID uint, clientID string, conn Conn) (clientRemoved bool, sessionClosed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.tables[tableID]
	if !ok {
		return false, false
	}
	delete(session.conns, conn.ID())
	if c, exists := session.clients[clientID]; exists && c.connID == conn.ID() {
		removeClient(session, clientID)
		clientRemoved = true
	}
	if len(session.conns) == 0 {
		delete(h.tables, tableID)
		sessionClosed = true
	}
	return clientRemoved, sessionClosed
}

func removeClient(session *tableSession, clientID string) {
	delete(session.clients, clientID)
	for i, id := range session.joined {
		if id == clientID {
			session.joined = append(session.joined[:i], session.joined[i+1:]...)
			break
		}
	}
}

func snapshot(tableID uint, session *tableSession) SessionSnapshot {
	clients := make([]ClientInfo, 0, len(session.joined))
	for _, id := range session.joined {
		clients = append(clients, session.clients[id].info)
	}
	return SessionSnapshot{
		TableID:     tableID,
		OrderID:     session.orderID,
		Clients:     clients,
		Connections: len(session.conns),
	}
}

func (h *Hub) Session(tableID uint) (SessionSnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.tables[tableID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return snapshot(tableID, session), true
}

// Clients mengembalikan client yang terhubung sesuai urutan join.
func (h *Hub) Clients(tableID uint) []ClientInfo {
	s, _ := h.Session(tableID)
	return s.Clients
}

// SetOrder mengganti order aktif meja, misalnya setelah order lama ditutup.
func (h *Hub) SetOrder(tableID, orderID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session, ok := h.tables[tableID]; ok {
		session.orderID = orderID
	}
}

// Sessions mengembalikan semua meja yang sedang punya koneksi, urut menurut tableID.
func (h *Hub) Sessions() []SessionSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]SessionSnapshot, 0, len(h.tables))
	for tableID, session := range h.tables {
		result = append(result, snapshot(tableID, session))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TableID < result[j].TableID })
	return result
}

// Broadcast mengirim msg ke semua socket meja kecuali exclude (boleh nil).
// Meja yang tidak dikenal diabaikan.
func (h *Hub) Broadcast(tableID uint, msg Message, exclude Conn) {
	data, err := Encode(msg)
	if err != nil {
		utils.ErrorLogger.Errorf("Error marshaling %s: %v", msg.Type, err)
		return
	}

	h.mu.Lock()
	session, ok := h.tables[tableID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]Conn, 0, len(session.conns))
	for id, conn := range session.conns {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			utils.InfoLogger.WithFields(logrus.Fields{
				"table_id": tableID,
				"conn_id":  conn.ID(),
				"event":    msg.Type,
			}).Warnf("Dropping table socket: %v", err)
			h.pruneTableConn(tableID, conn)
		}
	}
}

// pruneTableConn hanya melepas socket dan menutupnya; read loop pemilik socket
// yang akan memanggil LeaveTable sehingga client-nya ikut keluar lewat jalur normal.
func (h *Hub) pruneTableConn(tableID uint, conn Conn) {
	h.mu.Lock()
	if session, ok := h.tables[tableID]; ok {
		delete(session.conns, conn.ID())
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) JoinAdmin(restaurantID uint, conn Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.admins[restaurantID]
	if !ok {
		conns = make(map[string]Conn)
		h.admins[restaurantID] = conns
	}
	conns[conn.ID()] = conn
	return len(conns)
}

func (h *Hub) LeaveAdmin(restaurantID uint, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.admins[restaurantID]
	if !ok {
		return
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(h.admins, restaurantID)
	}
}

func (h *Hub) AdminConnections(restaurantID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.admins[restaurantID])
}

func (h *Hub) BroadcastAdmin(restaurantID uint, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		utils.ErrorLogger.Errorf("Error marshaling %s: %v", msg.Type, err)
		return
	}

	h.mu.Lock()
	conns, ok := h.admins[restaurantID]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			utils.InfoLogger.WithFields(logrus.Fields{
				"restaurant_id": restaurantID,
				"conn_id":       conn.ID(),
				"event":         msg.Type,
			}).Warnf("Dropping admin socket: %v", err)
			h.LeaveAdmin(restaurantID, conn)
			conn.Close()
		}
	}
}

// SendTo mengirim pesan ke satu socket saja, dipakai untuk INITIAL_STATE dan ERROR.
func SendTo(conn Conn, msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	return conn.Send(data)
}
