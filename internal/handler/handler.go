package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/honeynil/payment-ledger/internal/infrastructure/auth"
	"github.com/honeynil/payment-ledger/internal/infrastructure/observability"
	"github.com/honeynil/payment-ledger/internal/models"
	service "github.com/honeynil/payment-ledger/internal/services"
	pkgerrors "github.com/honeynil/payment-ledger/pkg/errors"
)

const (
	emailAlreadyRegisteredDetail = "Email already registered"
	incorrectCredentialsDetail   = "Incorrect email or password"
	internalErrorDetail          = "Internal server error"

	ReplayedHeader = "Idempotent-Replayed"
)

type Handler struct {
	authService        service.AuthService
	transactionService service.TransactionService
	validate           *validator.Validate
}

func NewHandler(authService service.AuthService, transactionService service.TransactionService) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		authService:        authService,
		transactionService: transactionService,
		validate:           validate,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type createTransactionRequest struct {
	Amount         float64 `json:"amount" validate:"gt=0"`
	SourceCurrency string  `json:"source_currency" validate:"required"`
	TargetCurrency string  `json:"target_currency" validate:"required"`
	IdempotencyKey string  `json:"idempotency_key" validate:"required,max=255"`
}

type transactionResponse struct {
	ID             int64             `json:"id"`
	Amount         float64           `json:"amount"`
	SourceCurrency string            `json:"source_currency"`
	TargetCurrency string            `json:"target_currency"`
	Status         models.StatusType `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	AuditHash      *string           `json:"audit_hash"`
}

func newTransactionResponse(tx *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:             tx.ID,
		Amount:         tx.Amount,
		SourceCurrency: tx.SourceCurrency,
		TargetCurrency: tx.TargetCurrency,
		Status:         tx.Status,
		CreatedAt:      tx.CreatedAt,
		AuditHash:      tx.AuditHash,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Unexpected
// errors are logged and answered with a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, method string, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, strings.TrimPrefix(err.Error(), pkgerrors.ErrValidation.Error()+": "))
	case errors.Is(err, pkgerrors.ErrEmailAlreadyRegistered):
		h.writeError(w, http.StatusBadRequest, emailAlreadyRegisteredDetail)
	case errors.Is(err, pkgerrors.ErrAuth):
		auth.WriteUnauthorized(w)
	case errors.Is(err, pkgerrors.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		observability.WithContext(r.Context(), "method", method).Error("request failed", "path", r.URL.Path, "error", err)
		h.writeError(w, http.StatusInternalServerError, internalErrorDetail)
	}
}

// decodeAndValidate fills req from the JSON body and checks its tags.
// A false return means the 422 response was already written.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/debug/users-count", h.UsersCount).Methods(http.MethodGet)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.authService.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, "Register", err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{ID: user.ID, Email: user.Email, CreatedAt: user.CreatedAt})
}

// Login takes form-encoded username (the email) and password fields.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	token, err := h.authService.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			h.writeError(w, http.StatusUnauthorized, incorrectCredentialsDetail)
			return
		}
		h.writeServiceError(w, r, "Login", err)
		return
	}

	writeJSON(w, http.StatusOK, models.Token{AccessToken: token, TokenType: models.TokenTypeBearer})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}

	var req createTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	tx, replayed, err := h.transactionService.CreateTransaction(r.Context(), userID, service.CreateTransactionInput{
		Amount:         req.Amount,
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeServiceError(w, r, "CreateTransaction", err)
		return
	}

	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(tx))
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		auth.WriteUnauthorized(w)
		return
	}

	transactions, err := h.transactionService.ListTransactions(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, "ListTransactions", err)
		return
	}

	out := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		out = append(out, newTransactionResponse(&transactions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) UsersCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.authService.CountUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "UsersCount", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"users_count": count})
}
