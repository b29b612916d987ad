package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ledgergrpc "github.com/asurechain/ledger/internal/grpc"
	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

type fakeBackend struct {
	result    *verify.Result
	err       error
	lastQuery types.Query
	issued    []verify.IssueRequest
	revoked   []string
	blocks    []*types.Block
	report    *ledgergrpc.IntegrityReport
}

func (f *fakeBackend) Issue(_ context.Context, req verify.IssueRequest) (*types.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.issued = append(f.issued, req)
	return &types.Artifact{ID: "a-1", CompanyName: req.CompanyName, BarCode: req.BarCode, BatchNo: req.BatchNo, Status: types.StatusValid}, nil
}

func (f *fakeBackend) Verify(_ context.Context, q types.Query) (*verify.Result, error) {
	f.lastQuery = q
	return f.result, f.err
}

func (f *fakeBackend) Revoke(_ context.Context, id string) (*types.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.revoked = append(f.revoked, id)
	return &types.Artifact{ID: id, Status: types.StatusRevoked}, nil
}

func (f *fakeBackend) ListArtifacts(context.Context) ([]*types.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	artifacts := make([]*types.Artifact, 0, len(f.issued))
	for _, req := range f.issued {
		artifacts = append(artifacts, &types.Artifact{BarCode: req.BarCode, CompanyName: req.CompanyName})
	}
	return artifacts, nil
}

func (f *fakeBackend) GetArtifact(_ context.Context, id string) (*types.Artifact, error) {
	for _, req := range f.issued {
		if req.BarCode == id {
			return &types.Artifact{ID: id, BarCode: req.BarCode}, nil
		}
	}
	return nil, status.Error(codes.NotFound, "artifact "+id+" not found")
}

func (f *fakeBackend) VerifyIntegrity(context.Context) (*ledgergrpc.IntegrityReport, error) {
	return f.report, f.err
}

func (f *fakeBackend) GetInfo(context.Context) (*ledgergrpc.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ledgergrpc.Info{Height: len(f.blocks), Difficulty: 2}, nil
}

func (f *fakeBackend) GetBlock(_ context.Context, index uint64) (*types.Block, error) {
	if index >= uint64(len(f.blocks)) {
		return nil, status.Error(codes.NotFound, "no block")
	}
	return f.blocks[index], nil
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestVerify_Outcomes(t *testing.T) {
	tests := []struct {
		outcome verify.Outcome
		status  types.ArtifactStatus
		success bool
		message string
	}{
		{verify.OutcomeAuthentic, types.StatusValid, true, "authentic and valid"},
		{verify.OutcomeRevoked, types.StatusRevoked, false, "REVOKED"},
		{verify.OutcomeNeedsReview, types.ArtifactStatus("Suspended"), true, "status: Suspended"},
		{verify.OutcomeLedgerUnconfirmed, types.StatusValid, false, "BLOCKCHAIN RECORD is missing"},
		{verify.OutcomeTampered, types.StatusValid, false, "does not match"},
		{verify.OutcomeNotFound, "", false, "Possible counterfeit"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			result := &verify.Result{Outcome: tt.outcome}
			if tt.outcome != verify.OutcomeNotFound {
				result.Artifact = &types.Artifact{BarCode: "BC-1", Status: tt.status}
			}
			backend := &fakeBackend{result: result}
			h := NewHandler(backend, nil, time.Second, 0)

			rec, resp := do(t, h, http.MethodPost, "/api/verify", `{"barCode":"BC-1"}`)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.outcome, resp.Outcome)
			assert.Contains(t, resp.Message, tt.message)
			assert.Equal(t, "BC-1", backend.lastQuery.BarCode)
		})
	}
}

func TestVerify_EmptyQuery(t *testing.T) {
	backend := &fakeBackend{}
	h := NewHandler(backend, nil, time.Second, 0)

	rec, resp := do(t, h, http.MethodPost, "/api/verify", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "No search criteria provided.", resp.Message)
}

func TestVerify_BackendError(t *testing.T) {
	tests := []struct {
		code    codes.Code
		want    int
		message string
	}{
		{codes.Internal, http.StatusInternalServerError, "Internal server error during verification."},
		{codes.InvalidArgument, http.StatusBadRequest, "bad query"},
		{codes.NotFound, http.StatusNotFound, "bad query"},
		{codes.DeadlineExceeded, http.StatusGatewayTimeout, "bad query"},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			backend := &fakeBackend{err: status.Error(tt.code, "bad query")}
			h := NewHandler(backend, nil, time.Second, 0)

			rec, resp := do(t, h, http.MethodPost, "/api/verify", `{"companyName":"Acme"}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestIssue(t *testing.T) {
	backend := &fakeBackend{}
	h := NewHandler(backend, nil, time.Second, 0)

	rec, resp := do(t, h, http.MethodPost, "/api/artifacts", `{"companyName":"Acme","barCode":"BC-1","batchNo":"B1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Artifact)
	assert.Equal(t, "BC-1", resp.Artifact.BarCode)
	require.Len(t, backend.issued, 1)
	assert.Equal(t, "Acme", backend.issued[0].CompanyName)
}

func TestIssue_ErrorCodes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.AlreadyExists, http.StatusConflict},
		{codes.ResourceExhausted, http.StatusServiceUnavailable},
		{codes.Internal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			backend := &fakeBackend{err: status.Error(tt.code, "nope")}
			h := NewHandler(backend, nil, time.Second, 0)

			rec, resp := do(t, h, http.MethodPost, "/api/artifacts", `{"barCode":"BC-1"}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, "nope", resp.Error)
		})
	}
}

func TestIssue_Paced(t *testing.T) {
	backend := &fakeBackend{}
	h := NewHandler(backend, nil, time.Second, 20)

	start := time.Now()
	for i := 0; i < 3; i++ {
		rec, _ := do(t, h, http.MethodPost, "/api/artifacts", fmt.Sprintf(`{"companyName":"Acme","barCode":"BC-%d","batchNo":"B1"}`, i))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Len(t, backend.issued, 3)
}

func TestListArtifacts(t *testing.T) {
	backend := &fakeBackend{}
	h := NewHandler(backend, nil, time.Second, 0)

	_, _ = do(t, h, http.MethodPost, "/api/artifacts", `{"companyName":"Acme","barCode":"BC-1","batchNo":"B1"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/artifacts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    []*types.Artifact `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "BC-1", resp.Data[0].BarCode)

	rec, one := do(t, h, http.MethodGet, "/api/artifacts/BC-1", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, one.Artifact)
	assert.Equal(t, "BC-1", one.Artifact.ID)

	rec, one = do(t, h, http.MethodGet, "/api/artifacts/missing", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "artifact missing not found", one.Message)
}

func TestRevoke(t *testing.T) {
	backend := &fakeBackend{}
	h := NewHandler(backend, nil, time.Second, 0)

	rec, resp := do(t, h, http.MethodPost, "/api/artifacts/a-7/revoke", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"a-7"}, backend.revoked)
	assert.Equal(t, types.StatusRevoked, resp.Artifact.Status)
}

func TestChain_NewestFirst(t *testing.T) {
	backend := &fakeBackend{}
	for i := 0; i < 5; i++ {
		backend.blocks = append(backend.blocks, &types.Block{Index: uint64(i), Hash: fmt.Sprintf("h%d", i)})
	}
	h := NewHandler(backend, nil, time.Second, 0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chain?count=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Info   ledgergrpc.Info `json:"info"`
			Blocks []types.Block   `json:"blocks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Data.Info.Height)
	require.Len(t, resp.Data.Blocks, 3)
	assert.Equal(t, "h4", resp.Data.Blocks[0].Hash)
	assert.Equal(t, "h2", resp.Data.Blocks[2].Hash)
}

func TestIntegrity(t *testing.T) {
	backend := &fakeBackend{report: &ledgergrpc.IntegrityReport{OK: false, Height: 4, Index: 2, Kind: "hash_mismatch"}}
	h := NewHandler(backend, nil, time.Second, 0)

	rec, resp := do(t, h, http.MethodGet, "/api/chain/integrity", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "block 2")

	backend.report = &ledgergrpc.IntegrityReport{OK: true, Height: 4}
	_, resp = do(t, h, http.MethodGet, "/api/chain/integrity", ``)
	assert.True(t, resp.Success)
}

func TestHealthAndCORS(t *testing.T) {
	h := NewHandler(&fakeBackend{}, nil, time.Second, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
