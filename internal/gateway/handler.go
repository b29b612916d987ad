// Package gateway is the public HTTP JSON API in front of ledgerd.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ledgergrpc "github.com/asurechain/ledger/internal/grpc"
	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

// defaultChainCount is how many recent blocks GET /api/chain returns
const defaultChainCount = 10

// Backend is the ledgerd API the gateway fronts
type Backend interface {
	Issue(ctx context.Context, req verify.IssueRequest) (*types.Artifact, error)
	Verify(ctx context.Context, q types.Query) (*verify.Result, error)
	Revoke(ctx context.Context, id string) (*types.Artifact, error)
	ListArtifacts(ctx context.Context) ([]*types.Artifact, error)
	GetArtifact(ctx context.Context, id string) (*types.Artifact, error)
	VerifyIntegrity(ctx context.Context) (*ledgergrpc.IntegrityReport, error)
	GetInfo(ctx context.Context) (*ledgergrpc.Info, error)
	GetBlock(ctx context.Context, index uint64) (*types.Block, error)
}

// APIResponse wraps every gateway response
type APIResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	Outcome  verify.Outcome  `json:"outcome,omitempty"`
	Artifact *types.Artifact `json:"artifact,omitempty"`
	Data     any             `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// artifactRequest is the JSON body of verify and issue calls
type artifactRequest struct {
	CompanyName string `json:"companyName"`
	BarCode     string `json:"barCode"`
	BatchNo     string `json:"batchNo"`
	Status      string `json:"status,omitempty"`
}

// Handler serves the gateway routes
type Handler struct {
	backend Backend
	logger  *zap.Logger
	timeout time.Duration
	issueRL ratelimit.Limiter
}

// NewHandler returns the gateway routes wrapped in permissive CORS.
// Issue requests are paced to issueRPS per second; 0 disables pacing.
func NewHandler(backend Backend, logger *zap.Logger, timeout time.Duration, issueRPS int) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{backend: backend, logger: logger, timeout: timeout, issueRL: ratelimit.NewUnlimited()}
	if issueRPS > 0 {
		h.issueRL = ratelimit.New(issueRPS)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("POST /api/verify", h.verify)
	mux.HandleFunc("GET /api/artifacts", h.list)
	mux.HandleFunc("POST /api/artifacts", h.issue)
	mux.HandleFunc("GET /api/artifacts/{id}", h.artifact)
	mux.HandleFunc("POST /api/artifacts/{id}/revoke", h.revoke)
	mux.HandleFunc("GET /api/chain", h.chain)
	mux.HandleFunc("GET /api/chain/integrity", h.integrity)

	return cors.Default().Handler(mux)
}

// Message returns the human-readable explanation of a verification outcome
func Message(result *verify.Result) (string, bool) {
	switch result.Outcome {
	case verify.OutcomeAuthentic:
		return "Artifact verification successful. The document is authentic and valid (Blockchain Verified).", true
	case verify.OutcomeRevoked:
		return "Artifact found and Blockchain verified, but status is REVOKED. This document is no longer valid.", false
	case verify.OutcomeNeedsReview:
		status := ""
		if result.Artifact != nil {
			status = string(result.Artifact.Status)
		}
		return fmt.Sprintf("Artifact found, status: %s. Requires further check.", status), true
	case verify.OutcomeLedgerUnconfirmed:
		return "Artifact metadata found, but the corresponding BLOCKCHAIN RECORD is missing or compromised. Counterfeit suspected.", false
	case verify.OutcomeTampered:
		return "Artifact metadata does not match its sealed BLOCKCHAIN RECORD. Counterfeit suspected.", false
	default:
		return "No matching artifact found in the system. Possible counterfeit.", false
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, APIResponse{Message: "Malformed request body."})
		return
	}

	q := types.Query{CompanyName: req.CompanyName, BarCode: req.BarCode, BatchNo: req.BatchNo}
	if q.IsEmpty() {
		sendJSON(w, http.StatusBadRequest, APIResponse{Message: "No search criteria provided."})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.backend.Verify(ctx, q)
	if err != nil {
		h.fail(w, "Internal server error during verification.", err)
		return
	}

	message, success := Message(result)
	sendJSON(w, http.StatusOK, APIResponse{
		Success:  success,
		Message:  message,
		Outcome:  result.Outcome,
		Artifact: result.Artifact,
	})
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req artifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, APIResponse{Message: "Malformed request body."})
		return
	}

	// Every issue costs a proof-of-work search on ledgerd
	h.issueRL.Take()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artifact, err := h.backend.Issue(ctx, verify.IssueRequest{
		CompanyName: req.CompanyName,
		BarCode:     req.BarCode,
		BatchNo:     req.BatchNo,
		Status:      types.ArtifactStatus(req.Status),
	})
	if err != nil {
		h.fail(w, "Issue failed", err)
		return
	}

	sendJSON(w, http.StatusCreated, APIResponse{
		Success:  true,
		Message:  "Artifact issued and sealed into the ledger.",
		Artifact: artifact,
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artifacts, err := h.backend.ListArtifacts(ctx)
	if err != nil {
		h.fail(w, "Listing artifacts failed", err)
		return
	}

	sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    artifacts,
	})
}

func (h *Handler) artifact(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artifact, err := h.backend.GetArtifact(ctx, r.PathValue("id"))
	if err != nil {
		h.fail(w, "Artifact lookup failed", err)
		return
	}

	sendJSON(w, http.StatusOK, APIResponse{
		Success:  true,
		Artifact: artifact,
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	artifact, err := h.backend.Revoke(ctx, r.PathValue("id"))
	if err != nil {
		h.fail(w, "Revoke failed", err)
		return
	}

	sendJSON(w, http.StatusOK, APIResponse{
		Success:  true,
		Message:  "Artifact revoked.",
		Artifact: artifact,
	})
}

func (h *Handler) chain(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	count := defaultChainCount
	if v := r.URL.Query().Get("count"); v != "" {
		if c, err := strconv.Atoi(v); err == nil && c > 0 {
			count = c
		}
	}

	info, err := h.backend.GetInfo(ctx)
	if err != nil {
		h.fail(w, "Chain info failed", err)
		return
	}

	blocks := make([]*types.Block, 0, min(count, info.Height))
	for i := info.Height - 1; i >= 0 && len(blocks) < count; i-- {
		block, err := h.backend.GetBlock(ctx, uint64(i))
		if err != nil {
			h.fail(w, "Block fetch failed", err)
			return
		}
		blocks = append(blocks, block)
	}

	sendJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"info":   info,
			"blocks": blocks,
		},
	})
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.backend.VerifyIntegrity(ctx)
	if err != nil {
		h.fail(w, "Integrity check failed", err)
		return
	}

	message := "Ledger integrity verified."
	if !report.OK {
		message = fmt.Sprintf("Ledger integrity violation at block %d: %s.", report.Index, report.Kind)
	}
	sendJSON(w, http.StatusOK, APIResponse{
		Success: report.OK,
		Message: message,
		Data:    report,
	})
}

// fail reports err with its mapped HTTP status. msg is the message for
// server-side failures; client-side failures carry the backend's own message.
func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	code := httpStatus(err)
	reason := status.Convert(err).Message()

	message := reason
	if code == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		message = msg
	}
	sendJSON(w, code, APIResponse{Message: message, Error: reason})
}

// httpStatus maps a gRPC status to an HTTP status code
func httpStatus(err error) int {
	switch status.Code(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable, codes.ResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
