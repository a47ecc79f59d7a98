package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"mailpay/internal/model"
	"mailpay/internal/upgrade"
	"mailpay/internal/verify"
)

// CreditBuyer confirms deposit transactions into ledger credits.
type CreditBuyer interface {
	Confirm(ctx context.Context, wallet, txHash string, chainID uint64) (*verify.Result, error)
}

// AccountReader resolves the ledger's view of a wallet.
type AccountReader interface {
	AccountOf(ctx context.Context, wallet string) (model.Account, error)
}

// Upgrader runs handle upgrades with or without a name purchase.
type Upgrader interface {
	UpgradeHandle(ctx context.Context, wallet, newHandle string) (*upgrade.Result, error)
	PurchaseName(ctx context.Context, wallet, name string) (*upgrade.Result, error)
	Resume(ctx context.Context, wallet, txHash string) (*upgrade.Result, error)
}

// Server exposes the payment API. Session auth lives in front of this
// service; the caller's wallet arrives in the X-Wallet-Address header.
type Server struct {
	verifier CreditBuyer
	upgrader Upgrader
	accounts AccountReader
	validate *validator.Validate
	log      *zap.Logger
	metrics  http.Handler

	httpServer *http.Server
}

// New builds a Server. accounts and metricsHandler may be nil; the balance
// endpoint and /metrics are then disabled.
func New(verifier CreditBuyer, upgrader Upgrader, accounts AccountReader, log *zap.Logger, metricsHandler http.Handler) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		verifier: verifier,
		upgrader: upgrader,
		accounts: accounts,
		validate: validator.New(),
		log:      log,
		metrics:  metricsHandler,
	}
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/credits/buy", s.handleCreditBuy)
	if s.accounts != nil {
		mux.HandleFunc("/credits/balance", s.handleBalance)
	}
	mux.HandleFunc("/register/upgrade-handle", s.handleUpgradeHandle)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // purchase requests block on receipt waits
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type creditBuyRequest struct {
	TxHash  string `json:"tx_hash" validate:"required"`
	ChainID uint64 `json:"chain_id"`
}

type creditBuyResponse struct {
	Balance     int64  `json:"balance"`
	Purchased   int64  `json:"purchased"`
	Chain       string `json:"chain"`
	AmountSpent string `json:"amount_spent"`
}

func (s *Server) handleCreditBuy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wallet, ok := s.callerWallet(w, r)
	if !ok {
		return
	}

	var req creditBuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrInvalidTxHash.Detailf("bad request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrInvalidTxHash.Detailf("%v", err))
		return
	}

	res, err := s.verifier.Confirm(r.Context(), wallet, req.TxHash, req.ChainID)
	if err != nil {
		s.writeClassified(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, creditBuyResponse{
		Balance:     res.Balance,
		Purchased:   res.Purchased,
		Chain:       res.Chain,
		AmountSpent: res.AmountWei,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wallet, ok := s.callerWallet(w, r)
	if !ok {
		return
	}

	acct, err := s.accounts.AccountOf(r.Context(), strings.ToLower(wallet))
	if err != nil {
		s.writeClassified(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, acct)
}

type upgradeHandleRequest struct {
	NewHandle string `json:"new_handle" validate:"required_without=TxHash,omitempty,min=3,max=64"`
	BuyName   bool   `json:"buy_name"`
	// TxHash resumes a purchase whose receipt wait previously timed out.
	TxHash string `json:"tx_hash" validate:"omitempty,len=66"`
}

func (s *Server) handleUpgradeHandle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	wallet, ok := s.callerWallet(w, r)
	if !ok {
		return
	}

	var req upgradeHandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, &model.Error{Code: "bad_request", Kind: model.KindInput, Message: "bad request body"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, &model.Error{Code: "bad_request", Kind: model.KindInput, Message: err.Error()})
		return
	}

	var (
		res *upgrade.Result
		err error
	)
	switch {
	case req.TxHash != "":
		res, err = s.upgrader.Resume(r.Context(), wallet, req.TxHash)
	case req.BuyName:
		res, err = s.upgrader.PurchaseName(r.Context(), wallet, req.NewHandle)
	default:
		res, err = s.upgrader.UpgradeHandle(r.Context(), wallet, req.NewHandle)
	}

	if errors.Is(err, model.ErrReceiptTimeout) {
		// still pending on-chain; hand back the hash for a later poll
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "pending",
			"tx_hash": res.TxHash,
		})
		return
	}
	if err != nil {
		s.writeClassified(w, err)
		return
	}

	status := http.StatusOK
	if res.LinkPending {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, res)
}

// callerWallet extracts and validates the caller identity header.
func (s *Server) callerWallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := r.Header.Get("X-Wallet-Address")
	if err := s.validate.Var(wallet, "required,eth_addr"); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrInvalidWallet)
		return "", false
	}
	return wallet, true
}

func (s *Server) writeClassified(w http.ResponseWriter, err error) {
	var me *model.Error
	if !errors.As(err, &me) {
		s.log.Error("internal error", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch me.Kind {
	case model.KindRetryable:
		status = http.StatusNotFound
	case model.KindUpstreamFatal:
		status = http.StatusBadGateway
	case model.KindUpstreamRetryable:
		status = http.StatusServiceUnavailable
	}
	s.writeError(w, status, me)
}

func (s *Server) writeError(w http.ResponseWriter, status int, me *model.Error) {
	s.writeJSON(w, status, map[string]any{
		"error":     me.Message,
		"code":      me.Code,
		"retryable": me.Retryable(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
