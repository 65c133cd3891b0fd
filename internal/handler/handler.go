package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kupontech/kupon-ledger/internal/ledger"
	"github.com/kupontech/kupon-ledger/internal/models"
	"github.com/kupontech/kupon-ledger/internal/report"
	"github.com/kupontech/kupon-ledger/internal/service"
)

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// writeJSON encodes v as the response body
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrLimitExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("Request failed: %v", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", ledger.ErrValidation, err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id", ledger.ErrValidation)
	}
	return id, nil
}

// Register handles staff user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	user, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	user.PasswordHash = ""
	h.writeJSON(w, http.StatusCreated, user)
}

// Login handles staff authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// CreateCustomer handles customer registration
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var c models.Customer
	if err := h.decode(r, &c); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.svc.CreateCustomer(r.Context(), &c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// ListCustomers returns all customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, customers)
}

// UpdateCustomer handles customer master data updates
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var c models.Customer
	if err := h.decode(r, &c); err != nil {
		h.writeError(w, err)
		return
	}
	c.ID = id
	updated, err := h.svc.UpdateCustomer(r.Context(), &c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteCustomer removes a customer; ?confirm=true acknowledges the
// contract cancellation cascade
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	confirm := r.URL.Query().Get("confirm") == "true"
	if err := h.svc.DeleteCustomer(r.Context(), id, confirm); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSalesAgent handles agent registration
func (h *Handler) CreateSalesAgent(w http.ResponseWriter, r *http.Request) {
	var a models.SalesAgent
	if err := h.decode(r, &a); err != nil {
		h.writeError(w, err)
		return
	}
	created, err := h.svc.CreateSalesAgent(r.Context(), &a)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// ListSalesAgents returns all agents
func (h *Handler) ListSalesAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.svc.ListSalesAgents(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, agents)
}

// UpdateSalesAgent handles agent master data updates
func (h *Handler) UpdateSalesAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var a models.SalesAgent
	if err := h.decode(r, &a); err != nil {
		h.writeError(w, err)
		return
	}
	a.ID = id
	updated, err := h.svc.UpdateSalesAgent(r.Context(), &a)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteSalesAgent removes an agent
func (h *Handler) DeleteSalesAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.DeleteSalesAgent(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateContract handles the disbursement entrypoint
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req service.ContractRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.CreateContract(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

// ListContracts returns all contracts
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := h.svc.ListContracts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contracts)
}

// GetContract returns one contract with its coupon schedule
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	detail, err := h.svc.GetContract(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, detail)
}

// CancelContract administratively cancels a contract
func (h *Handler) CancelContract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	contract, err := h.svc.CancelContract(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, contract)
}

// RecordPayment handles the coupon payment entrypoint
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req service.PaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.svc.RecordPayment(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// LimitStatus reports monthly disbursement capacity; ?month=2024-03
// selects the month, default current
func (h *Handler) LimitStatus(w http.ResponseWriter, r *http.Request) {
	month := time.Now().UTC()
	if v := r.URL.Query().Get("month"); v != "" {
		parsed, err := time.Parse("2006-01", v)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: month must be YYYY-MM", ledger.ErrValidation))
			return
		}
		month = parsed
	}
	decision, err := h.svc.LimitStatus(r.Context(), month)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

// Manifest returns the collection manifest for the filter in the query
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	filter, asOf, err := manifestQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.svc.BuildManifest(r.Context(), filter, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

// ExportCSV streams the manifest as a CSV download
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	filter, asOf, err := manifestQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.svc.BuildManifest(r.Context(), filter, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="manifest-%s.csv"`, asOf.Format("20060102")))
	if err := report.WriteCSV(w, m); err != nil {
		h.log.Errorf("Failed to write csv export: %v", err)
	}
}

// ExportSpreadsheet streams the manifest as an Excel 2003 XML download
func (h *Handler) ExportSpreadsheet(w http.ResponseWriter, r *http.Request) {
	filter, asOf, err := manifestQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	m, err := h.svc.BuildManifest(r.Context(), filter, asOf)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.ms-excel")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="manifest-%s.xml"`, asOf.Format("20060102")))
	if err := report.WriteSpreadsheetXML(w, m); err != nil {
		h.log.Errorf("Failed to write spreadsheet export: %v", err)
	}
}

// manifestQuery parses the shared manifest filter query parameters:
// sales_id, due_from, due_to, status (comma separated), as_of.
func manifestQuery(r *http.Request) (models.ManifestFilter, time.Time, error) {
	var filter models.ManifestFilter
	q := r.URL.Query()

	if v := q.Get("sales_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, time.Time{}, fmt.Errorf("%w: invalid sales_id", ledger.ErrValidation)
		}
		filter.SalesID = &id
	}
	if v := q.Get("due_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, time.Time{}, fmt.Errorf("%w: due_from must be YYYY-MM-DD", ledger.ErrValidation)
		}
		filter.DueFrom = &t
	}
	if v := q.Get("due_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, time.Time{}, fmt.Errorf("%w: due_to must be YYYY-MM-DD", ledger.ErrValidation)
		}
		filter.DueTo = &t
	}
	if v := q.Get("status"); v != "" {
		filter.Statuses = strings.Split(v, ",")
	}

	asOf := ledger.DateOnly(time.Now().UTC())
	if v := q.Get("as_of"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, time.Time{}, fmt.Errorf("%w: as_of must be YYYY-MM-DD", ledger.ErrValidation)
		}
		asOf = t
	}
	return filter, asOf, nil
}
