package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/meshkeeper/meshkeeper/internal/domain"
	"github.com/meshkeeper/meshkeeper/internal/mesh"
)

const (
	defaultMessageLimit    = 100
	defaultTracerouteLimit = 50
	shutdownTimeout        = 3 * time.Second
)

// MeshService is the slice of the mesh manager the REST surface needs.
type MeshService interface {
	Connected() bool
	Local() (mesh.LocalNode, bool)
	StartedAt() time.Time
	SendText(ctx context.Context, to uint32, channel uint32, text string, replyID uint32, emoji bool) ([]string, error)
	SendTraceroute(ctx context.Context, to uint32, channel uint32) error
	Settings() *mesh.Settings
	ApplySchedulerSettings(ctx context.Context) error
}

// Server serves the local REST API.
type Server struct {
	logger  *slog.Logger
	service MeshService
	store   mesh.Store
	version string

	httpServer *http.Server
	listenAddr string
}

func NewServer(logger *slog.Logger, service MeshService, store mesh.Store, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:  logger.With("component", "httpapi"),
		service: service,
		store:   store,
		version: version,
	}

	return s
}

// Router builds the route table. Exposed separately so tests can drive
// the handlers without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	api.HandleFunc("/nodes/{id}", s.handleGetNode).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/traceroute", s.handleSendTraceroute).Methods(http.MethodPost)
	api.HandleFunc("/traceroutes", s.handleListTraceroutes).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)

	return r
}

// Start binds addr and serves until the context ends.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listenAddr = listener.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	s.logger.Info("http api listening", "addr", s.listenAddr)

	return nil
}

func (s *Server) Addr() string {
	return s.listenAddr
}

type statusResponse struct {
	Connected       bool      `json:"connected"`
	NodeID          string    `json:"node_id,omitempty"`
	NodeNum         uint32    `json:"node_num,omitempty"`
	LongName        string    `json:"long_name,omitempty"`
	ShortName       string    `json:"short_name,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Version         string    `json:"version"`
	StartedAt       time.Time `json:"started_at"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Connected: s.service.Connected(),
		Version:   s.version,
		StartedAt: s.service.StartedAt(),
	}
	if !resp.StartedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(resp.StartedAt).Seconds())
	}
	if local, ok := s.service.Local(); ok {
		resp.NodeID = local.ID
		resp.NodeNum = local.Num
		resp.LongName = local.LongName
		resp.ShortName = local.ShortName
		resp.FirmwareVersion = local.FirmwareVersion
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type nodeResponse struct {
	Num              uint32     `json:"num"`
	NodeID           string     `json:"node_id"`
	LongName         string     `json:"long_name"`
	ShortName        string     `json:"short_name"`
	HwModel          string     `json:"hw_model,omitempty"`
	Role             string     `json:"role,omitempty"`
	SNR              *float64   `json:"snr,omitempty"`
	RSSI             *int       `json:"rssi,omitempty"`
	BatteryLevel     *uint32    `json:"battery_level,omitempty"`
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	Altitude         *int32     `json:"altitude,omitempty"`
	HopsAway         *uint32    `json:"hops_away,omitempty"`
	ViaMQTT          bool       `json:"via_mqtt,omitempty"`
	IsFavorite       bool       `json:"is_favorite,omitempty"`
	IsMobile         bool       `json:"is_mobile,omitempty"`
	WelcomedAt       *time.Time `json:"welcomed_at,omitempty"`
	LastTracerouteAt *time.Time `json:"last_traceroute_at,omitempty"`
	FirstHeardAt     time.Time  `json:"first_heard_at"`
	LastHeardAt      time.Time  `json:"last_heard_at"`
}

func nodeToResponse(n domain.Node) nodeResponse {
	return nodeResponse{
		Num:              n.Num,
		NodeID:           n.NodeID,
		LongName:         n.LongName,
		ShortName:        n.ShortName,
		HwModel:          n.HwModel,
		Role:             n.Role,
		SNR:              n.SNR,
		RSSI:             n.RSSI,
		BatteryLevel:     n.BatteryLevel,
		Latitude:         n.Latitude,
		Longitude:        n.Longitude,
		Altitude:         n.Altitude,
		HopsAway:         n.HopsAway,
		ViaMQTT:          n.ViaMQTT,
		IsFavorite:       n.IsFavorite,
		IsMobile:         n.IsMobile,
		WelcomedAt:       n.WelcomedAt,
		LastTracerouteAt: n.LastTracerouteAt,
		FirstHeardAt:     n.FirstHeardAt,
		LastHeardAt:      n.LastHeardAt,
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	maxAge := s.service.Settings().MaxNodeAge(r.Context())
	nodes, err := s.store.Nodes.ListActive(r.Context(), maxAge)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list nodes: %w", err))

		return
	}

	out := make([]nodeResponse, 0, len(nodes))
	for _, n := range nodes {
		if n.Num == domain.BroadcastNodeNum {
			continue
		}
		out = append(out, nodeToResponse(n))
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	num, err := domain.ParseNodeID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid node id: %w", err))

		return
	}

	node, ok, err := s.store.Nodes.Get(r.Context(), num)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("get node: %w", err))

		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("node not found"))

		return
	}

	s.writeJSON(w, http.StatusOK, nodeToResponse(node))
}

type messageResponse struct {
	ID            string    `json:"id"`
	Direction     string    `json:"direction"`
	FromNum       uint32    `json:"from_num"`
	ToNum         uint32    `json:"to_num"`
	Channel       int       `json:"channel"`
	Text          string    `json:"text"`
	ChatKey       string    `json:"chat_key"`
	DeliveryState string    `json:"delivery_state,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	RxTime        time.Time `json:"rx_time"`
}

func messageToResponse(m domain.Message) messageResponse {
	direction := "in"
	if m.Direction == domain.MessageDirectionOut {
		direction = "out"
	}
	resp := messageResponse{
		ID:            m.ID,
		Direction:     direction,
		FromNum:       m.FromNum,
		ToNum:         m.ToNum,
		Channel:       m.Channel,
		Text:          m.Text,
		ChatKey:       domain.ChatKeyForMessage(m),
		FailureReason: m.FailureReason,
		RxTime:        m.RxTime,
	}
	if m.DeliveryState != 0 {
		resp.DeliveryState = m.DeliveryState.String()
	}

	return resp
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))

			return
		}
		limit = parsed
	}

	messages, err := s.store.Messages.ListRecent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list messages: %w", err))

		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageToResponse(m))
	}

	s.writeJSON(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	To      string `json:"to"`
	Channel uint32 `json:"channel"`
	Text    string `json:"text"`
	ReplyID uint32 `json:"reply_id,omitempty"`
	Emoji   bool   `json:"emoji,omitempty"`
}

type sendMessageResponse struct {
	MessageIDs []string `json:"message_ids"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))

		return
	}

	to := domain.BroadcastNodeNum
	if req.To != "" && req.To != "broadcast" {
		num, err := domain.ParseNodeID(req.To)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid destination: %w", err))

			return
		}
		to = num
	}

	ids, err := s.service.SendText(r.Context(), to, req.Channel, req.Text, req.ReplyID, req.Emoji)
	if err != nil {
		s.writeError(w, statusForSendError(err), err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, sendMessageResponse{MessageIDs: ids})
}

type tracerouteRequest struct {
	To      string `json:"to"`
	Channel uint32 `json:"channel"`
}

func (s *Server) handleSendTraceroute(w http.ResponseWriter, r *http.Request) {
	var req tracerouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))

		return
	}

	num, err := domain.ParseNodeID(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid destination: %w", err))

		return
	}

	if err := s.service.SendTraceroute(r.Context(), num, req.Channel); err != nil {
		s.writeError(w, statusForSendError(err), err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type tracerouteResponse struct {
	ID         int64     `json:"id"`
	FromNum    uint32    `json:"from_num"`
	ToNum      uint32    `json:"to_num"`
	Route      []uint32  `json:"route"`
	SNRTowards []float64 `json:"snr_towards,omitempty"`
	RouteBack  []uint32  `json:"route_back,omitempty"`
	SNRBack    []float64 `json:"snr_back,omitempty"`
	IsComplete bool      `json:"is_complete"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleListTraceroutes(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Traceroutes.ListRecent(r.Context(), defaultTracerouteLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list traceroutes: %w", err))

		return
	}

	out := make([]tracerouteResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, tracerouteResponse{
			ID:         rec.ID,
			FromNum:    rec.FromNum,
			ToNum:      rec.ToNum,
			Route:      rec.Route,
			SNRTowards: rec.SNRTowards,
			RouteBack:  rec.RouteBack,
			SNRBack:    rec.SNRBack,
			IsComplete: rec.IsComplete,
			CreatedAt:  rec.CreatedAt,
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

// editableSettingKeys whitelists the keys the REST surface may read and
// write. Internal bookkeeping keys stay out.
var editableSettingKeys = []string{
	mesh.SettingAutoAnnounceEnabled,
	mesh.SettingAutoAnnounceUseSchedule,
	mesh.SettingAutoAnnounceSchedule,
	mesh.SettingAutoAnnounceInterval,
	mesh.SettingAutoAnnounceMessage,
	mesh.SettingAutoAnnounceChannelIndex,
	mesh.SettingAutoAnnounceOnStart,
	mesh.SettingAutoAckEnabled,
	mesh.SettingAutoAckRegex,
	mesh.SettingAutoAckChannels,
	mesh.SettingAutoAckDirectMessages,
	mesh.SettingAutoAckMessage,
	mesh.SettingAutoAckUseDM,
	mesh.SettingAutoWelcomeEnabled,
	mesh.SettingAutoWelcomeWaitForName,
	mesh.SettingAutoWelcomeMessage,
	mesh.SettingAutoWelcomeTarget,
	mesh.SettingTracerouteInterval,
	mesh.SettingMaxNodeAgeHours,
	mesh.SettingDistanceUnit,
	mesh.SettingTimezone,
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string, len(editableSettingKeys))
	for _, key := range editableSettingKeys {
		out[key] = s.service.Settings().String(r.Context(), key, "")
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))

		return
	}

	allowed := make(map[string]bool, len(editableSettingKeys))
	for _, key := range editableSettingKeys {
		allowed[key] = true
	}
	for key := range req {
		if !allowed[key] {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown setting key %q", key))

			return
		}
	}

	for key, value := range req {
		if err := s.service.Settings().Set(r.Context(), key, value); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("store setting %s: %w", key, err))

			return
		}
	}

	// Scheduler settings take effect immediately; invalid combinations
	// are reported back but the stored values stay as written.
	if err := s.service.ApplySchedulerSettings(r.Context()); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("apply scheduler settings: %w", err))

		return
	}

	s.handleGetSettings(w, r)
}

func statusForSendError(err error) int {
	var fwErr *mesh.FirmwareUnsupportedError
	switch {
	case errors.Is(err, mesh.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.As(err, &fwErr):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
