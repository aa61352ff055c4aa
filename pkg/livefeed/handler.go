package livefeed

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bitechdev/tagstream/pkg/logger"
	"github.com/bitechdev/tagstream/pkg/session"
)

const (
	DashboardPath = "/api/v1/ws/dashboard"
	CardPath      = "/api/v1/ws/card/{card_id}"
)

// Handler upgrades HTTP requests to websocket sessions
type Handler struct {
	service  *Service
	upgrader websocket.Upgrader
	wsOpts   session.WebSocketOptions
}

// NewHandler creates the websocket entry points for svc
func NewHandler(svc *Service, wsOpts session.WebSocketOptions) *Handler {
	return &Handler{
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins; tokens gate access
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		wsOpts: wsOpts,
	}
}

// RegisterRoutes mounts the dashboard and card endpoints on r
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc(DashboardPath, h.ServeDashboard).Methods(http.MethodGet)
	r.HandleFunc(CardPath, h.ServeCard).Methods(http.MethodGet)
}

func (h *Handler) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	t, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	if err := h.service.Dashboard(r.Context(), r, t); err != nil && !isExpected(err) {
		logger.Warn("[LiveFeed] Dashboard session ended: %v", err)
	}
}

func (h *Handler) ServeCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := strconv.ParseInt(mux.Vars(r)["card_id"], 10, 64)
	if err != nil || cardID <= 0 {
		http.Error(w, "invalid card id", http.StatusBadRequest)
		return
	}

	t, ok := h.upgrade(w, r)
	if !ok {
		return
	}
	if err := h.service.Card(r.Context(), r, t, cardID); err != nil && !isExpected(err) {
		logger.Warn("[LiveFeed] Card %d session ended: %v", cardID, err)
	}
}

func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request) (*session.WebSocketTransport, bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		logger.Debug("[LiveFeed] Upgrade failed for %s: %v", r.RemoteAddr, err)
		return nil, false
	}
	t := session.NewWebSocketTransport(conn, h.wsOpts)
	t.Start()
	return t, true
}

// isExpected reports session endings that are routine rather than faults
func isExpected(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrCardNotFound) ||
		errors.Is(err, errSendFailed)
}
