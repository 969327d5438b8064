package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"stakebridge/internal/logbus"
	"stakebridge/internal/model"
	"stakebridge/internal/stake"
	"stakebridge/internal/workflow"
)

// Service is the orchestration surface the HTTP layer consumes.
type Service interface {
	StakeCrossChain(ctx context.Context, amount string) (*model.CombinedResult, error)
	Unstake(ctx context.Context) (*model.UnstakeResult, error)
	Position(ctx context.Context) (model.StakePosition, error)
	Decimals() uint8
}

// Handlers holds the orchestrator and the log broadcaster behind the routes.
type Handlers struct {
	service Service
	bus     *logbus.Broadcaster
	logger  *zap.Logger
}

func NewHandlers(service Service, bus *logbus.Broadcaster, logger *zap.Logger) *Handlers {
	if bus == nil {
		bus = logbus.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, bus: bus, logger: logger}
}

type stakeRequest struct {
	Amount string `json:"amount"`
}

type positionResponse struct {
	Staked string `json:"staked"`
	Loaned string `json:"loaned"`
}

type stakeResponse struct {
	Transfer model.TransferResult `json:"transfer"`
	Status   string               `json:"status"`
	Position *positionResponse    `json:"position,omitempty"`
}

type unstakeResponse struct {
	Status       string `json:"status"`
	Withdrawn    string `json:"withdrawn,omitempty"`
	NewStaked    string `json:"new_staked,omitempty"`
	NewLoaned    string `json:"new_loaned,omitempty"`
	AssetBalance string `json:"asset_balance,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var insufficient *stake.InsufficientLoanBalanceError
	switch {
	case errors.Is(err, workflow.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, workflow.ErrOperationInProgress):
		status = http.StatusConflict
	case errors.As(err, &insufficient):
		status = http.StatusUnprocessableEntity
	}
	h.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handlers) StakeHandler(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	result, err := h.service.StakeCrossChain(r.Context(), req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := stakeResponse{Transfer: result.Transfer, Status: "staked"}
	if result.Position == nil {
		resp.Status = "nothing_to_stake"
	} else {
		decimals := h.service.Decimals()
		resp.Position = &positionResponse{
			Staked: model.FormatUnits(result.Position.Staked, decimals),
			Loaned: model.FormatUnits(result.Position.Loaned, decimals),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) UnstakeHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Unstake(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	if result == nil {
		writeJSON(w, http.StatusOK, unstakeResponse{Status: "nothing_to_unstake"})
		return
	}

	decimals := h.service.Decimals()
	writeJSON(w, http.StatusOK, unstakeResponse{
		Status:       "unstaked",
		Withdrawn:    model.FormatUnits(result.Withdrawn, decimals),
		NewStaked:    model.FormatUnits(result.NewStaked, decimals),
		NewLoaned:    model.FormatUnits(result.NewLoaned, decimals),
		AssetBalance: model.FormatUnits(result.AssetBalance, decimals),
	})
}

func (h *Handlers) PositionHandler(w http.ResponseWriter, r *http.Request) {
	position, err := h.service.Position(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	decimals := h.service.Decimals()
	writeJSON(w, http.StatusOK, positionResponse{
		Staked: model.FormatUnits(position.Staked, decimals),
		Loaned: model.FormatUnits(position.Loaned, decimals),
	})
}

// LogsHandler streams broadcast lines to the client as server-sent events
// until the client disconnects.
func (h *Handlers) LogsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, lines := h.bus.Subscribe()
	defer h.bus.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}
