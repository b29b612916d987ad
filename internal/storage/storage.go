package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/asurechain/ledger/pkg/types"
)

const (
	// Database prefixes
	blockPrefix     = "block_"
	hashIndexPrefix = "hash_"
	artifactPrefix  = "artifact_"
	barcodePrefix   = "barcode_"
	ledgerRefPrefix = "ledgerref_"
	tipKey          = "chain_tip"
	heightKey       = "chain_height"
	difficultyKey   = "difficulty"
)

var (
	// ErrNotFound is returned when a key is absent
	ErrNotFound = errors.New("not found")
	// ErrOutOfOrder is returned when a block does not extend the stored chain
	ErrOutOfOrder = errors.New("block does not extend stored chain")
)

// Storage represents the LevelDB storage layer. One database holds both the
// chain and the artifact records under separate key prefixes.
type Storage struct {
	db      *leveldb.DB
	records *Records
}

// NewStorage opens (or creates) the database at path
func NewStorage(path string) (*Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newStorage(db), nil
}

// OpenMem opens a database held entirely in memory
func OpenMem() (*Storage, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	return newStorage(db), nil
}

func newStorage(db *leveldb.DB) *Storage {
	return &Storage{db: db, records: &Records{db: db}}
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveBlock appends a block. The block index must equal the stored height,
// so blocks land in chain order with no gaps, and its hash must be new.
func (s *Storage) SaveBlock(block *types.Block) error {
	height, err := s.GetChainHeight()
	if err != nil {
		return err
	}
	if block.Index != height {
		return fmt.Errorf("%w: got index %d, height %d", ErrOutOfOrder, block.Index, height)
	}
	if s.BlockExists(block.Hash) {
		return fmt.Errorf("%w: hash %s already stored", ErrOutOfOrder, block.Hash)
	}

	serialized, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("failed to serialize block: %w", err)
	}

	heightBytes, err := encodeGob(block.Index + 1)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Index), serialized)
	batch.Put([]byte(hashIndexPrefix+block.Hash), indexBytes(block.Index))
	batch.Put([]byte(tipKey), []byte(block.Hash))
	batch.Put([]byte(heightKey), heightBytes)

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}

	return nil
}

// GetBlock retrieves a block by index
func (s *Storage) GetBlock(index uint64) (*types.Block, error) {
	data, err := s.db.Get(blockKey(index), nil)
	if err != nil {
		return nil, notFound(err, "block %d", index)
	}

	return deserializeBlock(data)
}

// GetBlockByHash retrieves a block through the hash index
func (s *Storage) GetBlockByHash(hash string) (*types.Block, error) {
	data, err := s.db.Get([]byte(hashIndexPrefix+hash), nil)
	if err != nil {
		return nil, notFound(err, "block %s", hash)
	}

	return s.GetBlock(binary.BigEndian.Uint64(data))
}

// BlockExists checks if a block with this hash is stored
func (s *Storage) BlockExists(hash string) bool {
	exists, _ := s.db.Has([]byte(hashIndexPrefix+hash), nil)
	return exists
}

// GetChainTip retrieves the hash of the last stored block
func (s *Storage) GetChainTip() (string, error) {
	data, err := s.db.Get([]byte(tipKey), nil)
	if err != nil {
		return "", notFound(err, "chain tip")
	}
	return string(data), nil
}

// GetChainHeight retrieves the number of stored blocks, 0 for a fresh database
func (s *Storage) GetChainHeight() (uint64, error) {
	data, err := s.db.Get([]byte(heightKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var height uint64
	if err := decodeGob(data, &height); err != nil {
		return 0, err
	}

	return height, nil
}

// SaveDifficulty saves the difficulty for future blocks
func (s *Storage) SaveDifficulty(difficulty uint32) error {
	data, err := encodeGob(difficulty)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(difficultyKey), data, nil)
}

// GetDifficulty retrieves the saved difficulty
func (s *Storage) GetDifficulty() (uint32, error) {
	data, err := s.db.Get([]byte(difficultyKey), nil)
	if err != nil {
		return 0, notFound(err, "difficulty")
	}

	var difficulty uint32
	if err := decodeGob(data, &difficulty); err != nil {
		return 0, err
	}

	return difficulty, nil
}

// LoadChain returns every stored block in index order. A fresh database
// yields an empty slice.
func (s *Storage) LoadChain() ([]*types.Block, error) {
	blocks := []*types.Block{}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(blockPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		block, err := deserializeBlock(iter.Value())
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	return blocks, iter.Error()
}

// Clear removes all data from the database
func (s *Storage) Clear() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(iter.Key())
	}
	if err := iter.Error(); err != nil {
		return err
	}

	return s.db.Write(batch, nil)
}

// blockKey orders blocks by index under a big-endian suffix
func blockKey(index uint64) []byte {
	return append([]byte(blockPrefix), indexBytes(index)...)
}

func indexBytes(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return buf
}

// deserializeBlock decodes a stored block. Blocks are stored as JSON so the
// payload map decodes to the same shapes the ledger sealed.
func deserializeBlock(data []byte) (*types.Block, error) {
	var block types.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to deserialize block: %w", err)
	}
	return &block, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
