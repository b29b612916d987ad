package types

import (
	"time"
)

// GenesisPrevHash is the predecessor hash recorded in the genesis block
const GenesisPrevHash = "0"

// HashLength is the length of a hex-encoded SHA-256 block hash
const HashLength = 64

// Payload is the structured data sealed into a block.
// It is canonicalized (sorted keys, fixed number formatting) before hashing.
type Payload map[string]any

// Block is one sealed unit of the ledger
type Block struct {
	Index      uint64    `json:"index"`      // Position in the chain, 0 = genesis
	Timestamp  time.Time `json:"timestamp"`  // Seal time, millisecond precision
	Payload    Payload   `json:"payload"`    // Sealed data
	PrevHash   string    `json:"prev_hash"`  // Hash of the predecessor, GenesisPrevHash for genesis
	Nonce      uint64    `json:"nonce"`      // Proof-of-work nonce
	Difficulty uint32    `json:"difficulty"` // Leading hex zeros the block was sealed under
	Hash       string    `json:"hash"`       // Content hash (lowercase hex)
}

// IsGenesis reports whether the block is the first block of a chain
func (b *Block) IsGenesis() bool {
	return b.Index == 0
}

// ArtifactStatus is the lifecycle status of an issued artifact record
type ArtifactStatus string

const (
	StatusValid   ArtifactStatus = "Valid"
	StatusRevoked ArtifactStatus = "Revoked"
)

// Artifact is an externally issued record (certificate, product batch, license)
// whose fingerprint is sealed into the ledger
type Artifact struct {
	ID            string         `json:"id"`
	CompanyName   string         `json:"company_name"`
	BarCode       string         `json:"bar_code"`
	BatchNo       string         `json:"batch_no"`
	Status        ArtifactStatus `json:"status"`
	DateIssued    time.Time      `json:"date_issued"`
	Fingerprint   string         `json:"fingerprint"`
	IssuerAddress string         `json:"issuer_address"`
	LedgerHash    string         `json:"ledger_hash"`
}

// Query selects an artifact by any combination of its identifying fields.
// Empty fields are ignored.
type Query struct {
	CompanyName string `json:"company_name,omitempty"`
	BarCode     string `json:"bar_code,omitempty"`
	BatchNo     string `json:"batch_no,omitempty"`
}

// IsEmpty reports whether no search criteria are set
func (q Query) IsEmpty() bool {
	return q.CompanyName == "" && q.BarCode == "" && q.BatchNo == ""
}

// Matches reports whether the artifact satisfies every non-empty criterion
func (q Query) Matches(a *Artifact) bool {
	if q.CompanyName != "" && q.CompanyName != a.CompanyName {
		return false
	}
	if q.BarCode != "" && q.BarCode != a.BarCode {
		return false
	}
	if q.BatchNo != "" && q.BatchNo != a.BatchNo {
		return false
	}
	return true
}
