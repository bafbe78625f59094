package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-sync/hub"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/utils"
)

const (
	CancelReasonClient      = "cancelled"
	CancelReasonTimeout     = "timeout"
	CancelReasonEmpty       = "no_participants"
	CancelReasonOrderClosed = "order_closed"
)

type RoundParticipant struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	Acked    bool   `json:"acked"`
}

// Round adalah satu putaran konfirmasi yang aktif. Keberadaan Round berarti meja
// sedang dalam status Active; tidak ada flag terpisah.
type Round struct {
	ID            string             `json:"roundId"`
	TableID       uint               `json:"tableId"`
	InitiatorID   string             `json:"initiatorId"`
	InitiatorName string             `json:"initiatorName"`
	Participants  []RoundParticipant `json:"participants"`
	StartedAt     time.Time          `json:"startedAt"`
}

func (r Round) Complete() bool {
	if len(r.Participants) == 0 {
		return false
	}
	for _, p := range r.Participants {
		if !p.Acked {
			return false
		}
	}
	return true
}

func (r Round) Pending() []string {
	pending := []string{}
	for _, p := range r.Participants {
		if !p.Acked {
			pending = append(pending, p.Name)
		}
	}
	return pending
}

func (r *Round) index(clientID string) int {
	for i, p := range r.Participants {
		if p.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (r *Round) clone() Round {
	out := *r
	out.Participants = append([]RoundParticipant(nil), r.Participants...)
	return out
}

type RoundView struct {
	Round
	Pending []string `json:"pending"`
}

func viewOf(r Round) RoundView {
	return RoundView{Round: r, Pending: r.Pending()}
}

type CancelledPayload struct {
	RoundID     string         `json:"roundId"`
	CancelledBy hub.ClientInfo `json:"cancelledBy"`
	Reason      string         `json:"reason"`
}

// StartResult menjelaskan hasil Start.
type StartResult struct {
	Round Round
	// AutoConfirmed true bila hanya ada satu peserta sehingga order langsung dikonfirmasi.
	AutoConfirmed bool
}

type roundEntry struct {
	round *Round
	stop  func() bool
}

// ConfirmationCoordinator menjalankan state machine Idle -> Active -> Idle per meja.
// Broadcast dilakukan di dalam lock agar urutan event per meja konsisten;
// callback selesai/kadaluarsa dipanggil di luar lock, tepat satu kali per putaran.
type ConfirmationCoordinator struct {
	hub     *hub.Hub
	timeout time.Duration

	mu     sync.Mutex
	rounds map[uint]*roundEntry

	// AfterFunc bisa diganti di test untuk mengontrol timeout.
	AfterFunc  func(d time.Duration, f func()) (stop func() bool)
	OnComplete func(tableID uint, round Round)
	OnExpire   func(tableID uint, round Round)
}

func NewConfirmationCoordinator(h *hub.Hub, timeout time.Duration) *ConfirmationCoordinator {
	return &ConfirmationCoordinator{
		hub:     h,
		timeout: timeout,
		rounds:  make(map[uint]*roundEntry),
		AfterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Active mengembalikan salinan putaran aktif meja bila ada.
func (c *ConfirmationCoordinator) Active(tableID uint) (Round, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.rounds[tableID]
	if !ok {
		return Round{}, false
	}
	return entry.round.clone(), true
}

// Start memulai putaran baru. Bila sudah ada putaran aktif, putaran itu dikembalikan
// apa adanya bersama ErrRoundActive.
func (c *ConfirmationCoordinator) Start(tableID uint, clientID, name string) (StartResult, error) {
	c.mu.Lock()
	if entry, ok := c.rounds[tableID]; ok {
		existing := entry.round.clone()
		c.mu.Unlock()
		return StartResult{Round: existing}, models.ErrRoundActive
	}

	round := &Round{
		ID:            uuid.NewString(),
		TableID:       tableID,
		InitiatorID:   clientID,
		InitiatorName: name,
		StartedAt:     time.Now(),
	}
	for _, client := range c.hub.Clients(tableID) {
		round.Participants = append(round.Participants, RoundParticipant{
			ClientID: client.ClientID,
			Name:     client.Name,
			Acked:    client.ClientID == clientID,
		})
	}
	if round.index(clientID) < 0 {
		round.Participants = append([]RoundParticipant{{ClientID: clientID, Name: name, Acked: true}}, round.Participants...)
	}

	if len(round.Participants) == 1 {
		c.mu.Unlock()
		snapshot := round.clone()
		utils.InfoLogger.WithFields(logrus.Fields{"table_id": tableID, "client_id": clientID}).
			Info("Single participant, confirming order without a round")
		c.complete(tableID, snapshot)
		return StartResult{Round: snapshot, AutoConfirmed: true}, nil
	}

	entry := &roundEntry{round: round}
	roundID := round.ID
	entry.stop = c.AfterFunc(c.timeout, func() { c.expire(tableID, roundID) })
	c.rounds[tableID] = entry
	snapshot := round.clone()
	c.hub.Broadcast(tableID, hub.Message{Type: hub.EventConfirmationStarted, Payload: viewOf(snapshot)}, nil)
	c.mu.Unlock()

	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id":     tableID,
		"round_id":     roundID,
		"participants": len(snapshot.Participants),
	}).Info("Confirmation round started")
	return StartResult{Round: snapshot}, nil
}

// Ack menandai client sudah setuju. completed true bila ack ini menyelesaikan putaran.
func (c *ConfirmationCoordinator) Ack(tableID uint, clientID string) (Round, bool, error) {
	c.mu.Lock()
	entry, ok := c.rounds[tableID]
	if !ok {
		c.mu.Unlock()
		return Round{}, false, models.ErrNoActiveRound
	}
	i := entry.round.index(clientID)
	if i < 0 {
		snapshot := entry.round.clone()
		c.mu.Unlock()
		return snapshot, false, models.ErrNotInRound
	}
	entry.round.Participants[i].Acked = true
	return c.evaluateLocked(tableID, entry)
}

// evaluateLocked dipanggil dengan lock terpegang dan selalu melepasnya.
func (c *ConfirmationCoordinator) evaluateLocked(tableID uint, entry *roundEntry) (Round, bool, error) {
	snapshot := entry.round.clone()
	if !snapshot.Complete() {
		c.hub.Broadcast(tableID, hub.Message{Type: hub.EventConfirmationUpdated, Payload: viewOf(snapshot)}, nil)
		c.mu.Unlock()
		return snapshot, false, nil
	}

	delete(c.rounds, tableID)
	if entry.stop != nil {
		entry.stop()
	}
	c.hub.Broadcast(tableID, hub.Message{Type: hub.EventConfirmationUpdated, Payload: viewOf(snapshot)}, nil)
	c.mu.Unlock()

	c.complete(tableID, snapshot)
	return snapshot, true, nil
}

// Cancel membatalkan putaran aktif tanpa syarat; semua ack dibuang.
func (c *ConfirmationCoordinator) Cancel(tableID uint, by hub.ClientInfo, reason string) (Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.rounds[tableID]
	if !ok {
		return Round{}, models.ErrNoActiveRound
	}
	return c.cancelLocked(tableID, entry, by, reason), nil
}

func (c *ConfirmationCoordinator) cancelLocked(tableID uint, entry *roundEntry, by hub.ClientInfo, reason string) Round {
	delete(c.rounds, tableID)
	if entry.stop != nil {
		entry.stop()
	}
	snapshot := entry.round.clone()
	c.hub.Broadcast(tableID, hub.Message{
		Type:    hub.EventConfirmationCancelled,
		Payload: CancelledPayload{RoundID: snapshot.ID, CancelledBy: by, Reason: reason},
	}, nil)
	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id": tableID,
		"round_id": snapshot.ID,
		"reason":   reason,
	}).Info("Confirmation round cancelled")
	return snapshot
}

// OnDisconnect mengeluarkan client dari daftar ack. Keluar bukan veto: bila semua
// peserta yang tersisa sudah ack, putaran selesai.
func (c *ConfirmationCoordinator) OnDisconnect(tableID uint, clientID string) {
	c.mu.Lock()
	entry, ok := c.rounds[tableID]
	if !ok {
		c.mu.Unlock()
		return
	}
	i := entry.round.index(clientID)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	entry.round.Participants = append(entry.round.Participants[:i], entry.round.Participants[i+1:]...)
	if len(entry.round.Participants) == 0 {
		c.cancelLocked(tableID, entry, hub.ClientInfo{ClientID: clientID}, CancelReasonEmpty)
		c.mu.Unlock()
		return
	}
	c.evaluateLocked(tableID, entry)
}

func (c *ConfirmationCoordinator) expire(tableID uint, roundID string) {
	c.mu.Lock()
	entry, ok := c.rounds[tableID]
	if !ok || entry.round.ID != roundID {
		c.mu.Unlock()
		return
	}
	snapshot := c.cancelLocked(tableID, entry, hub.ClientInfo{}, CancelReasonTimeout)
	c.mu.Unlock()

	if c.OnExpire != nil {
		c.OnExpire(tableID, snapshot)
	}
}

func (c *ConfirmationCoordinator) complete(tableID uint, round Round) {
	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id": tableID,
		"round_id": round.ID,
	}).Info("Confirmation round completed")
	if c.OnComplete != nil {
		c.OnComplete(tableID, round)
	}
}
