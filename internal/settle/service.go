package settle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chiptally/settle-engine/internal/audit"
	"github.com/chiptally/settle-engine/internal/model"
	"github.com/chiptally/settle-engine/internal/store"
)

// Service exposes the settlement engine over HTTP, plus the thin game and
// ledger intake surface collaborators use to feed it.
type Service struct {
	store    store.Store
	orch     *Orchestrator
	auditLog *audit.Log
}

// NewService creates the HTTP service.
func NewService(st store.Store, orch *Orchestrator, auditLog *audit.Log) *Service {
	return &Service{store: st, orch: orch, auditLog: auditLog}
}

// --- Request types ---

// CreateGameRequest is the JSON body for POST /games.
type CreateGameRequest struct {
	Name string `json:"name"`
}

// TransactionRequest is the JSON body for POST /games/{gameID}/transactions.
type TransactionRequest struct {
	ParticipantID string          `json:"participant_id"`
	Kind          string          `json:"kind"` // "buy_in" or "cash_out"
	Amount        decimal.Decimal `json:"amount"`
}

// CalculateRequest is the JSON body for POST /games/{gameID}/calculate.
type CalculateRequest struct {
	ActorID string `json:"actor_id"`
}

// CompleteSettlementRequest is the JSON body for POST /settlements/{id}/complete.
type CompleteSettlementRequest struct {
	ActorID string `json:"actor_id"`
}

// --- Game / ledger intake handlers ---

// CreateGame handles POST /api/v1/games
func (s *Service) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	game := &model.Game{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Status:    model.GameStatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateGame(r.Context(), game); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("game created", "id", game.ID, "name", game.Name)
	writeJSON(w, http.StatusCreated, game)
}

// GetGame handles GET /api/v1/games/{gameID}
func (s *Service) GetGame(w http.ResponseWriter, r *http.Request) {
	game, err := s.store.GetGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, "game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// RecordTransaction handles POST /api/v1/games/{gameID}/transactions
// Ledger entries can only be added while the game is open.
func (s *Service) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, "participant_id is required", http.StatusBadRequest)
		return
	}
	if req.Kind != model.TxBuyIn && req.Kind != model.TxCashOut {
		writeError(w, "kind must be buy_in or cash_out", http.StatusBadRequest)
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, "amount must not be negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		writeError(w, "game not found", http.StatusNotFound)
		return
	}
	if game.Status != model.GameStatusOpen {
		writeError(w, "game is not open for ledger entries", http.StatusConflict)
		return
	}

	entry := &model.Transaction{
		ID:            uuid.New().String(),
		GameID:        gameID,
		ParticipantID: req.ParticipantID,
		Kind:          req.Kind,
		Amount:        req.Amount.Round(2),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertTransaction(ctx, entry); err != nil {
		writeError(w, "failed to record transaction", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

// CompleteGame handles POST /api/v1/games/{gameID}/complete
// Marks the game completed, which unlocks settlement calculation.
func (s *Service) CompleteGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	if err := s.store.SetGameStatus(r.Context(), gameID, model.GameStatusCompleted); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "game not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to complete game", http.StatusInternalServerError)
		return
	}

	slog.Info("game completed", "id", gameID)
	writeJSON(w, http.StatusOK, map[string]string{"id": gameID, "status": model.GameStatusCompleted})
}

// GetPositions handles GET /api/v1/games/{gameID}/positions
// Live, unlocked view of current net positions for display.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.orch.Positions(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.ParticipantPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// --- Settlement handlers ---

// Calculate handles POST /api/v1/games/{gameID}/calculate
func (s *Service) Calculate(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ActorID == "" {
		writeError(w, "actor_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.orch.Calculate(r.Context(), gameID, req.ActorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "game not found", http.StatusNotFound)
			return
		}
		writeError(w, "calculation failed", http.StatusInternalServerError)
		return
	}
	if result.Settlements == nil {
		result.Settlements = []model.Settlement{}
	}

	writeJSON(w, statusForOutcome(result.Outcome), result)
}

// GetSettlements handles GET /api/v1/games/{gameID}/settlements
func (s *Service) GetSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := s.orch.Settlements(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		writeError(w, "failed to load settlements", http.StatusInternalServerError)
		return
	}
	if settlements == nil {
		settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

// CompleteSettlement handles POST /api/v1/settlements/{settlementID}/complete
func (s *Service) CompleteSettlement(w http.ResponseWriter, r *http.Request) {
	settlementID := chi.URLParam(r, "settlementID")

	var req CompleteSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.orch.MarkCompleted(r.Context(), settlementID, req.ActorID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "settlement not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to complete settlement", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": settlementID, "status": model.SettlementCompleted})
}

// --- Audit handlers ---

// GetGameAudit handles GET /api/v1/games/{gameID}/audit?limit=
func (s *Service) GetGameAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.auditLog.HistoryByGame(r.Context(), chi.URLParam(r, "gameID"), queryLimit(r))
	if err != nil {
		writeError(w, "failed to load audit history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetActorAudit handles GET /api/v1/audit?actor_id=&limit=
func (s *Service) GetActorAudit(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		writeError(w, "actor_id is required", http.StatusBadRequest)
		return
	}

	entries, err := s.auditLog.HistoryByActor(r.Context(), actorID, queryLimit(r))
	if err != nil {
		writeError(w, "failed to load audit history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func statusForOutcome(outcome model.Outcome) int {
	switch outcome {
	case model.OutcomeSuccess, model.OutcomeAlreadyCalculated:
		return http.StatusOK
	case model.OutcomeInProgress:
		return http.StatusConflict
	case model.OutcomeRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
