package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loonworks/loonflow/ticket"
)

// TicketHandler serves the ticket endpoints. It delegates 1:1 to the
// ticket service and only translates HTTP.
type TicketHandler struct {
	svc    *ticket.Service
	logger *slog.Logger
}

// NewTicketHandler creates a TicketHandler.
func NewTicketHandler(svc *ticket.Service, logger *slog.Logger) *TicketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/tickets.
func (h *TicketHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ticket.ListRequest{
		SN:            q.Get("sn"),
		TitleContains: q.Get("title"),
		Username:      UsernameFromContext(r.Context()),
		Category:      q.Get("category"),
		Reverse:       q.Get("reverse") == "1" || q.Get("reverse") == "true",
		Page:          intQuery(q.Get("page")),
		PerPage:       intQuery(q.Get("per_page")),
	}
	if v := q.Get("create_start"); v != "" {
		t, err := parseTimeQuery(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid create_start")
			return
		}
		req.CreateStart = &t
	}
	if v := q.Get("create_end"); v != "" {
		t, err := parseTimeQuery(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid create_end")
			return
		}
		req.CreateEnd = &t
	}

	res, err := h.svc.ListTickets(r.Context(), req)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WritePaginated(w, res.Items, res.Total, res.Page, res.PerPage)
}

// Create handles POST /api/v1/tickets.
func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkflowID          int64          `json:"workflow_id"`
		TransitionID        int64          `json:"transition_id"`
		Title               string         `json:"title"`
		Suggestion          string         `json:"suggestion"`
		ParentTicketID      int64          `json:"parent_ticket_id"`
		ParentTicketStateID int64          `json:"parent_ticket_state_id"`
		Fields              map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.CreateTicket(r.Context(), ticket.CreateRequest{
		WorkflowID:          body.WorkflowID,
		TransitionID:        body.TransitionID,
		Username:            UsernameFromContext(r.Context()),
		Title:               body.Title,
		Suggestion:          body.Suggestion,
		ParentTicketID:      body.ParentTicketID,
		ParentTicketStateID: body.ParentTicketStateID,
		Fields:              body.Fields,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]int64{"ticket_id": id})
}

// Get handles GET /api/v1/tickets/{id}.
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.GetTicketDetail(r.Context(), id, UsernameFromContext(r.Context()))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// Delete handles DELETE /api/v1/tickets/{id}.
func (h *TicketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteTicket(r.Context(), id, UsernameFromContext(r.Context())); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"ticket_id": id})
}

// Transitions handles GET /api/v1/tickets/{id}/transitions.
func (h *TicketHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	opts, err := h.svc.Transitions(r.Context(), id, UsernameFromContext(r.Context()))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, opts)
}

// Handle handles POST /api/v1/tickets/{id}/transitions.
func (h *TicketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var body struct {
		TransitionID int64          `json:"transition_id"`
		Suggestion   string         `json:"suggestion"`
		Fields       map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.HandleTicket(r.Context(), ticket.HandleRequest{
		TicketID:     id,
		TransitionID: body.TransitionID,
		Username:     UsernameFromContext(r.Context()),
		Suggestion:   body.Suggestion,
		Fields:       body.Fields,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"ticket_id": id})
}

// UpdateState handles PUT /api/v1/tickets/{id}/state.
func (h *TicketHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var body struct {
		StateID int64 `json:"state_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.svc.UpdateTicketState(r.Context(), id, body.StateID, UsernameFromContext(r.Context())); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"ticket_id": id, "state_id": body.StateID})
}

// FlowLogs handles GET /api/v1/tickets/{id}/flowlogs.
func (h *TicketHandler) FlowLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	res, err := h.svc.FlowLogs(r.Context(), id, intQuery(q.Get("page")), intQuery(q.Get("per_page")))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WritePaginated(w, res.Items, res.Total, res.Page, res.PerPage)
}

// FlowSteps handles GET /api/v1/tickets/{id}/flowsteps.
func (h *TicketHandler) FlowSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	steps, err := h.svc.FlowSteps(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, steps)
}

// States handles GET /api/v1/tickets/states?ids=1,2,3.
func (h *TicketHandler) States(w http.ResponseWriter, r *http.Request) {
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid ticket id "+s)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		WriteError(w, http.StatusBadRequest, "ids is required")
		return
	}

	states, err := h.svc.StatesOf(r.Context(), ids)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, states)
}

// ticketID parses the {id} path value, writing a 400 on failure.
func ticketID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "invalid ticket id")
		return 0, false
	}
	return id, true
}

func intQuery(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseTimeQuery accepts RFC 3339 or a plain date.
func parseTimeQuery(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
