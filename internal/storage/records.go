package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/asurechain/ledger/internal/metrics"
	"github.com/asurechain/ledger/pkg/types"
)

// ErrDuplicate is returned when a bar code or ledger hash is already recorded
var ErrDuplicate = errors.New("duplicate artifact")

// Records manages artifact record persistence. Records share the chain's
// database; bar codes and ledger hashes are unique.
type Records struct {
	db *leveldb.DB
	mu sync.Mutex // serializes uniqueness check and write
}

// Records returns the artifact record store backed by this database.
// Every call returns the same store.
func (s *Storage) Records() *Records {
	return s.records
}

// SaveArtifact stores a new artifact record
func (r *Records) SaveArtifact(artifact *types.Artifact) (err error) {
	defer observe("save", time.Now(), &err)

	if artifact.ID == "" {
		return errors.New("artifact id is required")
	}

	data, err := encodeGob(artifact)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range []string{artifactPrefix + artifact.ID, barcodePrefix + artifact.BarCode, ledgerRefPrefix + artifact.LedgerHash} {
		exists, err := r.db.Has([]byte(key), nil)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicate, key)
		}
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(artifactPrefix+artifact.ID), data)
	batch.Put([]byte(barcodePrefix+artifact.BarCode), []byte(artifact.ID))
	batch.Put([]byte(ledgerRefPrefix+artifact.LedgerHash), []byte(artifact.ID))

	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	return nil
}

// GetArtifact retrieves an artifact by id
func (r *Records) GetArtifact(id string) (artifact *types.Artifact, err error) {
	defer observe("get", time.Now(), &err)
	return r.get(id)
}

// FindArtifact returns the first artifact matching every non-empty field of q
func (r *Records) FindArtifact(q types.Query) (artifact *types.Artifact, err error) {
	defer observe("find", time.Now(), &err)

	if q.IsEmpty() {
		return nil, errors.New("empty query")
	}

	if q.BarCode != "" {
		id, err := r.db.Get([]byte(barcodePrefix+q.BarCode), nil)
		if err != nil {
			return nil, notFound(err, "artifact with bar code %s", q.BarCode)
		}
		artifact, err := r.get(string(id))
		if err != nil {
			return nil, err
		}
		if !q.Matches(artifact) {
			return nil, fmt.Errorf("%w: artifact matching query", ErrNotFound)
		}
		return artifact, nil
	}

	var found *types.Artifact
	err = r.each(func(a *types.Artifact) bool {
		if q.Matches(a) {
			found = a
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: artifact matching query", ErrNotFound)
	}

	return found, nil
}

// UpdateStatus changes an artifact's status and returns the updated record
func (r *Records) UpdateStatus(id string, status types.ArtifactStatus) (artifact *types.Artifact, err error) {
	defer observe("update_status", time.Now(), &err)

	r.mu.Lock()
	defer r.mu.Unlock()

	artifact, err = r.get(id)
	if err != nil {
		return nil, err
	}
	artifact.Status = status

	data, err := encodeGob(artifact)
	if err != nil {
		return nil, err
	}
	if err := r.db.Put([]byte(artifactPrefix+id), data, nil); err != nil {
		return nil, fmt.Errorf("failed to update artifact: %w", err)
	}

	return artifact, nil
}

// CountArtifacts returns the number of stored artifacts
func (r *Records) CountArtifacts() (int, error) {
	count := 0
	err := r.each(func(*types.Artifact) bool {
		count++
		return true
	})
	return count, err
}

// ListArtifacts returns every artifact in id order
func (r *Records) ListArtifacts() ([]*types.Artifact, error) {
	artifacts := []*types.Artifact{}
	err := r.each(func(a *types.Artifact) bool {
		artifacts = append(artifacts, a)
		return true
	})
	return artifacts, err
}

func (r *Records) get(id string) (*types.Artifact, error) {
	data, err := r.db.Get([]byte(artifactPrefix+id), nil)
	if err != nil {
		return nil, notFound(err, "artifact %s", id)
	}

	var artifact types.Artifact
	if err := decodeGob(data, &artifact); err != nil {
		return nil, err
	}

	return &artifact, nil
}

// each walks all artifacts until fn returns false
func (r *Records) each(fn func(*types.Artifact) bool) error {
	iter := r.db.NewIterator(util.BytesPrefix([]byte(artifactPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		var artifact types.Artifact
		if err := decodeGob(iter.Value(), &artifact); err != nil {
			return err
		}
		if !fn(&artifact) {
			break
		}
	}

	return iter.Error()
}

func observe(operation string, started time.Time, err *error) {
	// A miss is a normal lookup result, not a store failure
	if errors.Is(*err, ErrNotFound) {
		metrics.ObserveRecordStore(operation, nil, started)
		return
	}
	metrics.ObserveRecordStore(operation, *err, started)
}
