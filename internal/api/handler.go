package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/zemenaye/askexpert/internal/infrastructure/auth"
	"github.com/zemenaye/askexpert/internal/models"
	service "github.com/zemenaye/askexpert/internal/services"
	pkgerrors "github.com/zemenaye/askexpert/pkg/errors"
)

type Handler struct {
	users       service.UserService
	wallets     service.WalletService
	questions   service.QuestionService
	withdrawals service.WithdrawalService
}

func NewHandler(
	users service.UserService,
	wallets service.WalletService,
	questions service.QuestionService,
	withdrawals service.WithdrawalService,
) *Handler {
	return &Handler{
		users:       users,
		wallets:     wallets,
		questions:   questions,
		withdrawals: withdrawals,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// httpStatus maps the error taxonomy onto response codes. Anything outside the
// taxonomy is a server fault.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrValidation),
		errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrWalletNotFound),
		errors.Is(err, pkgerrors.ErrQuestionNotFound),
		errors.Is(err, pkgerrors.ErrWithdrawalNotFound),
		errors.Is(err, pkgerrors.ErrReferralNotFound),
		errors.Is(err, pkgerrors.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrUserExists),
		errors.Is(err, pkgerrors.ErrWalletExists),
		errors.Is(err, pkgerrors.ErrInvalidState),
		errors.Is(err, pkgerrors.ErrDuplicateEntry),
		errors.Is(err, pkgerrors.ErrWithdrawalPending),
		errors.Is(err, pkgerrors.ErrAlreadyRated):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/wallet/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/wallet/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/wallet/verify", h.VerifyLedger).Methods("GET")

	r.HandleFunc("/questions", h.SubmitQuestion).Methods("POST")
	r.HandleFunc("/questions/asked", h.ListAsked).Methods("GET")
	r.HandleFunc("/questions/assigned", h.ListAssigned).Methods("GET")
	r.HandleFunc("/questions/{id:[0-9]+}", h.GetQuestion).Methods("GET")
	r.HandleFunc("/questions/{id:[0-9]+}/accept", h.AcceptQuestion).Methods("POST")
	r.HandleFunc("/questions/{id:[0-9]+}/decline", h.DeclineQuestion).Methods("POST")
	r.HandleFunc("/questions/{id:[0-9]+}/answer", h.AnswerQuestion).Methods("POST")
	r.HandleFunc("/questions/{id:[0-9]+}/cancel", h.CancelQuestion).Methods("POST")
	r.HandleFunc("/questions/{id:[0-9]+}/rate", h.RateQuestion).Methods("POST")

	r.HandleFunc("/withdrawals", h.RequestWithdrawal).Methods("POST")
	r.HandleFunc("/withdrawals", h.ListWithdrawals).Methods("GET")
	r.HandleFunc("/withdrawals/{id:[0-9]+}/cancel", h.CancelWithdrawal).Methods("POST")
	r.HandleFunc("/withdrawals/{id:[0-9]+}/complete", h.CompleteWithdrawal).Methods("POST")
	r.HandleFunc("/withdrawals/{id:[0-9]+}/reject", h.RejectWithdrawal).Methods("POST")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username         string                          `json:"username"`
		Password         string                          `json:"password"`
		DisplayName      string                          `json:"display_name"`
		Role             models.UserRole                 `json:"role"`
		ReferralCode     string                          `json:"referral_code"`
		SupportedFormats []models.ResponseFormat         `json:"supported_formats"`
		Prices           map[models.ResponseFormat]int64 `json:"prices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	user, err := h.users.Register(r.Context(), service.RegisterParams{
		Username:         req.Username,
		Password:         req.Password,
		DisplayName:      req.DisplayName,
		Role:             req.Role,
		ReferralCode:     req.ReferralCode,
		SupportedFormats: req.SupportedFormats,
		Prices:           req.Prices,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	token, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}

	wallet, err := h.wallets.GetWallet(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}

	balance, err := h.wallets.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	page, limit := paging(r)

	entries, total, err := h.wallets.GetHistory(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
		// Reference is the client's idempotency key for this deposit.
		Reference   string `json:"reference"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	entry, err := h.wallets.Deposit(r.Context(), userID, req.Amount, req.Reference, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}

	consistent, err := h.wallets.VerifyLedger(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"consistent": consistent})
}

func (h *Handler) SubmitQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}

	var req struct {
		ExpertID    int64                 `json:"expert_id"`
		Format      models.ResponseFormat `json:"format"`
		Text        string                `json:"text"`
		Attachments []models.Attachment   `json:"attachments"`
		Amount      int64                 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	q, err := h.questions.Submit(r.Context(), service.SubmitParams{
		ClientID:    userID,
		ExpertID:    req.ExpertID,
		Format:      req.Format,
		Text:        req.Text,
		Attachments: req.Attachments,
		Amount:      req.Amount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	q, err := h.questions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *Handler) ListAsked(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	page, limit := paging(r)

	qs, err := h.questions.ListByClient(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) ListAssigned(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	page, limit := paging(r)

	qs, err := h.questions.ListByExpert(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) AcceptQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	q, err := h.questions.Accept(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *Handler) DeclineQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	q, err := h.questions.Decline(r.Context(), id, userID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *Handler) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	var answer models.Answer
	if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	q, err := h.questions.Complete(r.Context(), id, userID, &answer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *Handler) CancelQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	q, err := h.questions.Cancel(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *Handler) RateQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	var req struct {
		Stars    int    `json:"stars"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	if err := h.questions.Rate(r.Context(), id, userID, req.Stars, req.Feedback); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rated"})
}

func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}

	var req struct {
		Amount      int64                   `json:"amount"`
		Method      models.WithdrawalMethod `json:"method"`
		Destination models.Destination      `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	wd, err := h.withdrawals.Request(r.Context(), userID, req.Amount, req.Method, req.Destination)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wd)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	page, limit := paging(r)

	wds, err := h.withdrawals.ListByUser(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wds)
}

func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	wd, err := h.withdrawals.CancelByUser(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wd)
}

func (h *Handler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	wd, err := h.withdrawals.Complete(r.Context(), id, operatorID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wd)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrValidation)
		return
	}

	wd, err := h.withdrawals.Reject(r.Context(), id, operatorID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wd)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func paging(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
