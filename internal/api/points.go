package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/point-ledger/internal/api/httpx"
	"github.com/baharkarakas/point-ledger/internal/api/validate"
	"github.com/baharkarakas/point-ledger/internal/middleware"
	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/services"
)

const maxBodyBytes = 1 << 20

type pointHandler struct{ svc *services.PointService }

type amountReq struct {
	Amount json.Number `json:"amount"`
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ef := validate.Int64("id", chi.URLParam(r, "id"))
	if ef != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid user id", validate.Errs{}.Add(ef))
		return 0, false
	}
	return id, true
}

func (h *pointHandler) point(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Point(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *pointHandler) histories(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	hs, err := h.svc.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, hs)
}

type mutation func(ctx context.Context, userID, amount int64) (models.UserPoint, error)

// mutate decodes {"amount": n} and applies op (charge or use).
func (h *pointHandler) mutate(op mutation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := userID(w, r)
		if !ok {
			return
		}

		var req amountReq
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
			return
		}
		amount, err := services.ParseAmount(req.Amount)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		p, err := op(r.Context(), id, amount)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, p)
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch reason := services.Reason(err); reason {
	case "invalid_amount", "insufficient_balance", "balance_overflow":
		httpx.WriteError(w, http.StatusBadRequest, reason, err.Error(), nil)
	case "cancelled":
		httpx.WriteError(w, http.StatusServiceUnavailable, "unavailable", "request cancelled", nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
