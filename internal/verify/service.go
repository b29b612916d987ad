// Package verify issues artifact records into the ledger and answers
// authenticity queries against them.
package verify

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asurechain/ledger/internal/crypto"
	"github.com/asurechain/ledger/internal/merkle"
	"github.com/asurechain/ledger/internal/metrics"
	"github.com/asurechain/ledger/internal/storage"
	"github.com/asurechain/ledger/pkg/types"
)

// Outcome is the machine-readable verdict of a verification
type Outcome string

const (
	OutcomeNotFound          Outcome = "not_found"
	OutcomeLedgerUnconfirmed Outcome = "ledger_unconfirmed"
	OutcomeTampered          Outcome = "tampered"
	OutcomeAuthentic         Outcome = "authentic"
	OutcomeRevoked           Outcome = "revoked"
	OutcomeNeedsReview       Outcome = "needs_review"
)

var (
	// ErrEmptyQuery is returned when a query names no identifying field
	ErrEmptyQuery = errors.New("no search criteria provided")
	// ErrInvalidRequest is returned for issue requests missing required fields
	ErrInvalidRequest = errors.New("invalid issue request")
)

// Chain is the part of the ledger the service needs
type Chain interface {
	MintAndAppend(ctx context.Context, payload types.Payload) (string, error)
	Contains(hash string) bool
	BlockByHash(hash string) (*types.Block, error)
	InclusionProof(hash string) ([]merkle.ProofStep, string, error)
}

// Records is the artifact record store
type Records interface {
	SaveArtifact(artifact *types.Artifact) error
	GetArtifact(id string) (*types.Artifact, error)
	FindArtifact(q types.Query) (*types.Artifact, error)
	UpdateStatus(id string, status types.ArtifactStatus) (*types.Artifact, error)
	CountArtifacts() (int, error)
	ListArtifacts() ([]*types.Artifact, error)
}

// IssueRequest describes a new artifact record
type IssueRequest struct {
	CompanyName string               `json:"company_name"`
	BarCode     string               `json:"bar_code"`
	BatchNo     string               `json:"batch_no"`
	Status      types.ArtifactStatus `json:"status,omitempty"`      // defaults to Valid
	DateIssued  time.Time            `json:"date_issued,omitempty"` // defaults to now
}

// Result is the answer to a verification query
type Result struct {
	Outcome  Outcome         `json:"outcome"`
	Artifact *types.Artifact `json:"artifact,omitempty"`
	Block    *types.Block    `json:"block,omitempty"`

	// Proof places Block under Checkpoint, the merkle root of the chain at verification time
	Proof      []merkle.ProofStep `json:"proof,omitempty"`
	Checkpoint string             `json:"checkpoint,omitempty"`
}

// Authentic reports whether the artifact can be trusted as issued
func (r *Result) Authentic() bool {
	return r.Outcome == OutcomeAuthentic
}

// ProofValid reports whether Proof places Block under Checkpoint
func (r *Result) ProofValid() bool {
	if r.Block == nil || r.Checkpoint == "" {
		return false
	}

	leaf, err := hex.DecodeString(r.Block.Hash)
	if err != nil {
		return false
	}
	root, err := hex.DecodeString(r.Checkpoint)
	if err != nil {
		return false
	}

	return merkle.VerifyProof(leaf, r.Proof, root)
}

// Service issues and verifies artifact records
type Service struct {
	chain   Chain
	records Records
	issuer  *crypto.Issuer
	logger  *zap.Logger
	now     func() time.Time

	// issueMu makes the duplicate check, the mint and the record save one step
	issueMu sync.Mutex
}

// NewService creates a verification service signing with issuer
func NewService(chain Chain, records Records, issuer *crypto.Issuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		chain:   chain,
		records: records,
		issuer:  issuer,
		logger:  logger,
		now:     time.Now,
	}
}

// Issue fingerprints and signs the record, seals it into the ledger and
// stores it under the resulting block hash.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (artifact *types.Artifact, err error) {
	defer func() { metrics.ObserveIssue(err) }()

	if req.CompanyName == "" || req.BarCode == "" || req.BatchNo == "" {
		return nil, fmt.Errorf("%w: company name, bar code and batch number are required", ErrInvalidRequest)
	}
	if req.Status == "" {
		req.Status = types.StatusValid
	}
	if req.DateIssued.IsZero() {
		req.DateIssued = s.now()
	}

	s.issueMu.Lock()
	defer s.issueMu.Unlock()

	// Refuse before minting so a duplicate never leaves an orphan block
	if _, err := s.records.FindArtifact(types.Query{BarCode: req.BarCode}); err == nil {
		return nil, fmt.Errorf("%w: bar code %s", storage.ErrDuplicate, req.BarCode)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	artifact = &types.Artifact{
		ID:            uuid.NewString(),
		CompanyName:   req.CompanyName,
		BarCode:       req.BarCode,
		BatchNo:       req.BatchNo,
		Status:        req.Status,
		DateIssued:    req.DateIssued.UTC(),
		IssuerAddress: s.issuer.Address(),
	}

	artifact.Fingerprint, err = fingerprint(artifact)
	if err != nil {
		return nil, err
	}
	signature := s.issuer.Sign([]byte(artifact.Fingerprint))

	hash, err := s.chain.MintAndAppend(ctx, types.Payload{
		"company_name": artifact.CompanyName,
		"bar_code":     artifact.BarCode,
		"batch_no":     artifact.BatchNo,
		"fingerprint":  artifact.Fingerprint,
		"issuer":       artifact.IssuerAddress,
		"public_key":   s.issuer.PublicKeyHex(),
		"signature":    hex.EncodeToString(signature),
		"issued_at":    artifact.DateIssued.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal artifact: %w", err)
	}
	artifact.LedgerHash = hash

	if err := s.records.SaveArtifact(artifact); err != nil {
		s.logger.Error("Artifact sealed but record not saved",
			zap.String("bar_code", artifact.BarCode),
			zap.String("hash", hash),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Artifact issued",
		zap.String("id", artifact.ID),
		zap.String("bar_code", artifact.BarCode),
		zap.String("hash", hash))

	return artifact, nil
}

// Verify looks up the record matching q and checks it against the ledger
func (s *Service) Verify(ctx context.Context, q types.Query) (result *Result, err error) {
	defer func() {
		outcome := ""
		if result != nil {
			outcome = string(result.Outcome)
		}
		metrics.ObserveVerification(outcome, err)
	}()

	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifact, err := s.records.FindArtifact(q)
	if errors.Is(err, storage.ErrNotFound) {
		return &Result{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	result = &Result{Artifact: artifact}

	if !s.chain.Contains(artifact.LedgerHash) {
		s.logger.Warn("Artifact has no ledger record",
			zap.String("id", artifact.ID),
			zap.String("hash", artifact.LedgerHash))
		result.Outcome = OutcomeLedgerUnconfirmed
		return result, nil
	}

	block, err := s.chain.BlockByHash(artifact.LedgerHash)
	if err != nil {
		return nil, err
	}
	result.Block = block

	result.Proof, result.Checkpoint, err = s.chain.InclusionProof(block.Hash)
	if err != nil {
		return nil, err
	}

	if err := checkSeal(artifact, block.Payload); err != nil {
		s.logger.Warn("Artifact does not match its ledger record",
			zap.String("id", artifact.ID),
			zap.Error(err))
		result.Outcome = OutcomeTampered
		return result, nil
	}

	switch artifact.Status {
	case types.StatusValid:
		result.Outcome = OutcomeAuthentic
	case types.StatusRevoked:
		result.Outcome = OutcomeRevoked
	default:
		result.Outcome = OutcomeNeedsReview
	}

	return result, nil
}

// IssuerAddress returns the address records are signed under
func (s *Service) IssuerAddress() string {
	return s.issuer.Address()
}

// Artifact returns the record with id
func (s *Service) Artifact(id string) (*types.Artifact, error) {
	return s.records.GetArtifact(id)
}

// ListArtifacts returns every issued record
func (s *Service) ListArtifacts(ctx context.Context) ([]*types.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.records.ListArtifacts()
}

// Revoke marks an artifact revoked. The ledger is append-only and untouched;
// the status lives in the record store.
func (s *Service) Revoke(ctx context.Context, id string) (*types.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifact, err := s.records.UpdateStatus(id, types.StatusRevoked)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Artifact revoked", zap.String("id", id), zap.String("bar_code", artifact.BarCode))
	return artifact, nil
}

// Seed issues reqs when the record store is empty and returns how many were issued
func (s *Service) Seed(ctx context.Context, reqs []IssueRequest) (int, error) {
	count, err := s.records.CountArtifacts()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("Record store already contains artifacts, skipping seed", zap.Int("count", count))
		return 0, nil
	}

	for i, req := range reqs {
		if _, err := s.Issue(ctx, req); err != nil {
			return i, fmt.Errorf("failed to seed %s: %w", req.BarCode, err)
		}
	}

	s.logger.Info("Record store seeded", zap.Int("artifacts", len(reqs)))
	return len(reqs), nil
}

// DemoRecords returns the sample artifacts a fresh demo deployment is seeded with
func DemoRecords() []IssueRequest {
	return []IssueRequest{
		{
			CompanyName: "North South University",
			BarCode:     "BC-100-2024-TUT",
			BatchNo:     "S2024-TUT",
			Status:      types.StatusValid,
			DateIssued:  time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			CompanyName: "Apollo Pharma",
			BarCode:     "MED-77A-101",
			BatchNo:     "P01X-23",
			Status:      types.StatusRevoked,
			DateIssued:  time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			CompanyName: "TechCorp Solutions",
			BarCode:     "PROD-TCS-005",
			BatchNo:     "Q3-2024",
			Status:      types.StatusValid,
			DateIssued:  time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

// fingerprint covers the identifying fields of a record. Status is not
// covered; it changes on revocation.
func fingerprint(a *types.Artifact) (string, error) {
	return crypto.Fingerprint(map[string]string{
		"company_name": a.CompanyName,
		"bar_code":     a.BarCode,
		"batch_no":     a.BatchNo,
		"date_issued":  a.DateIssued.UTC().Format(time.RFC3339Nano),
		"issuer":       a.IssuerAddress,
	})
}

// checkSeal confirms the sealed payload fingerprints the stored record and
// carries a valid issuer signature over that fingerprint.
func checkSeal(a *types.Artifact, payload types.Payload) error {
	want, err := fingerprint(a)
	if err != nil {
		return err
	}

	sealed, _ := payload["fingerprint"].(string)
	if sealed != want || a.Fingerprint != want {
		return errors.New("fingerprint mismatch")
	}

	pubHex, _ := payload["public_key"].(string)
	sigHex, _ := payload["signature"].(string)
	pubKey, err := hex.DecodeString(pubHex)
	if err != nil {
		return fmt.Errorf("bad public key: %w", err)
	}
	signature, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("bad signature: %w", err)
	}

	issuerHash, err := crypto.DecodeAddress(a.IssuerAddress)
	if err != nil {
		return fmt.Errorf("bad issuer address: %w", err)
	}
	if !bytes.Equal(crypto.PublicKeyHash(pubKey), issuerHash) {
		return errors.New("issuer mismatch")
	}
	if !crypto.VerifySignature(pubKey, []byte(want), signature) {
		return errors.New("signature mismatch")
	}

	return nil
}
