package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/fieldboard/fieldboard/internal/schedule"
	"github.com/fieldboard/fieldboard/internal/status"
)

// Handler formats schedule and indicator events as dashboard messages.
// It bridges between the serve loop and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnBookingChange broadcasts one applied change event.
func (h *Handler) OnBookingChange(ev schedule.ChangeEvent) {
	if ev.Store != schedule.StoreBookings {
		return
	}

	var action string
	switch ev.Action {
	case schedule.ActionAdd:
		action = "created"
	case schedule.ActionUpdate:
		action = "updated"
	case schedule.ActionRemove:
		action = "deleted"
	default:
		return
	}

	data := BookingUpdateData{
		BookingID: ev.Booking.ID,
		Action:    action,
	}
	if action != "deleted" {
		data.Name = ev.Booking.Name
		data.Start = ev.Booking.Start.UTC().Format(time.RFC3339)
		data.End = ev.Booking.End.UTC().Format(time.RFC3339)
		data.ResourceID = ev.Booking.ResourceID
		data.Travel = ev.Booking.Travel.Display()
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal booking data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeBookingUpdate,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnSyncStatus broadcasts a sync indicator transition. Registered as a
// status.Listener.
func (h *Handler) OnSyncStatus(snap status.Snapshot) {
	data := SyncStatusData{
		State:   snap.State.String(),
		Message: snap.Message,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal status data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncStatus,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnSnapshotLoaded broadcasts a completed remote snapshot load.
func (h *Handler) OnSnapshotLoaded(resources, bookings int, duration time.Duration) {
	h.logger.Printf("Snapshot loaded: %d resources, %d bookings in %v", resources, bookings, duration)

	data := SnapshotLoadedData{
		Resources: resources,
		Bookings:  bookings,
		Duration:  duration,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal snapshot data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSnapshotLoaded,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
