// Package raffleapi exposes the raffle over HTTP: read accessors, entry,
// and the upkeep surface the external automation network calls.
package raffleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openraffle/raffled/internal/raffle"
	"github.com/openraffle/raffled/internal/vault"
)

var ErrInvalidConfig = errors.New("raffleapi: invalid config")

// Raffle is the surface the handler serves.
type Raffle interface {
	Enter(ctx context.Context, sender common.Address, amount *big.Int) error
	CheckUpkeep(ctx context.Context) (bool, raffle.UpkeepDiagnostic)
	PerformUpkeep(ctx context.Context) (uint64, error)

	State() raffle.State
	EntranceFee() *big.Int
	Interval() time.Duration
	Players() []common.Address
	Player(i int) (common.Address, error)
	Pot() *big.Int
	LastTimestamp() time.Time
	RecentWinner() common.Address
	OutstandingRequestID() uint64
}

type Config struct {
	// AuthToken enables bearer-token auth on mutating routes when set.
	AuthToken string

	// MaxBodyBytes limits request sizes. Defaults to 64 KiB.
	MaxBodyBytes int64
}

type handler struct {
	cfg    Config
	raffle Raffle
}

func NewHandler(r Raffle, cfg Config) (http.Handler, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil raffle", ErrInvalidConfig)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	h := &handler{cfg: cfg, raffle: r}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /v1/raffle", h.handleSnapshot)
	mux.HandleFunc("GET /v1/players/{index}", h.handlePlayer)
	mux.HandleFunc("POST /v1/enter", h.handleEnter)
	mux.HandleFunc("POST /v1/upkeep/check", h.handleUpkeepCheck)
	mux.HandleFunc("POST /v1/upkeep/perform", h.handleUpkeepPerform)
	return mux, nil
}

func (h *handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *handler) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	players := h.raffle.Players()
	playerHexes := make([]string, 0, len(players))
	for _, p := range players {
		playerHexes = append(playerHexes, p.Hex())
	}

	out := snapshotResponse{
		State:           h.raffle.State().String(),
		EntranceFeeWei:  h.raffle.EntranceFee().String(),
		IntervalSeconds: int64(h.raffle.Interval() / time.Second),
		Players:         playerHexes,
		PlayerCount:     len(players),
		PotWei:          h.raffle.Pot().String(),
		LastTimestamp:   h.raffle.LastTimestamp().UTC().Unix(),
	}
	if winner := h.raffle.RecentWinner(); winner != (common.Address{}) {
		out.RecentWinner = winner.Hex()
	}
	if id := h.raffle.OutstandingRequestID(); id != 0 {
		out.OutstandingRequestID = id
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) handlePlayer(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return
	}
	player, err := h.raffle.Player(idx)
	if err != nil {
		writeError(w, http.StatusNotFound, "player_not_found")
		return
	}
	writeJSON(w, http.StatusOK, playerResponse{Index: idx, Player: player.Hex()})
}

func (h *handler) handleEnter(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req enterRequest
	if !decodeStrict(w, r, h.cfg.MaxBodyBytes, &req) {
		return
	}
	if !common.IsHexAddress(req.Player) {
		writeError(w, http.StatusBadRequest, "invalid_player")
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.AmountWei), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "invalid_amount_wei")
		return
	}

	err := h.raffle.Enter(r.Context(), common.HexToAddress(req.Player), amount)
	if err != nil {
		var notEnough *raffle.NotEnoughFundsError
		switch {
		case errors.As(err, &notEnough):
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:          "not_enough_funds",
				RequiredFeeWei: notEnough.Required.String(),
			})
		case errors.Is(err, raffle.ErrRaffleNotOpen):
			writeError(w, http.StatusConflict, "raffle_not_open")
		case errors.Is(err, vault.ErrInsufficientFunds):
			writeError(w, http.StatusPaymentRequired, "insufficient_balance")
		case errors.Is(err, vault.ErrUnknownAccount):
			writeError(w, http.StatusNotFound, "unknown_account")
		default:
			writeError(w, http.StatusInternalServerError, "internal")
		}
		return
	}

	writeJSON(w, http.StatusOK, enterResponse{
		Player:      common.HexToAddress(req.Player).Hex(),
		PlayerCount: len(h.raffle.Players()),
		PotWei:      h.raffle.Pot().String(),
	})
}

func (h *handler) handleUpkeepCheck(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	needed, diag := h.raffle.CheckUpkeep(r.Context())
	writeJSON(w, http.StatusOK, upkeepCheckResponse{
		UpkeepNeeded: needed,
		Diagnostic:   diagnosticBody(diag),
	})
}

func (h *handler) handleUpkeepPerform(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	requestID, err := h.raffle.PerformUpkeep(r.Context())
	if err != nil {
		var notNeeded *raffle.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			writeJSON(w, http.StatusConflict, errorResponse{
				Error: "upkeep_not_needed",
				Diagnostic: &diagnosticResponse{
					State:       notNeeded.State.String(),
					BalanceWei:  notNeeded.Balance.String(),
					PlayerCount: notNeeded.PlayerCount,
				},
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	writeJSON(w, http.StatusOK, upkeepPerformResponse{RequestID: requestID})
}

func (h *handler) authorized(r *http.Request) bool {
	if h.cfg.AuthToken == "" {
		return true
	}
	return checkBearer(r.Header.Get("Authorization"), h.cfg.AuthToken)
}

func decodeStrict(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	// Reject trailing garbage.
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func diagnosticBody(diag raffle.UpkeepDiagnostic) *diagnosticResponse {
	return &diagnosticResponse{
		State:          diag.State.String(),
		BalanceWei:     diag.Balance.String(),
		PlayerCount:    diag.PlayerCount,
		ElapsedSeconds: int64(diag.Elapsed / time.Second),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func checkBearer(header string, wantToken string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)) == wantToken
}
