package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/pkg/types"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage_FreshDatabase(t *testing.T) {
	s := newTestStorage(t)

	blocks, err := s.LoadChain()
	require.NoError(t, err)
	assert.Empty(t, blocks)

	height, err := s.GetChainHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), height)

	_, err = s.GetDifficulty()
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetChainTip()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_LedgerRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	l, err := ledger.New(ledger.WithStore(s), ledger.WithDifficulty(1))
	require.NoError(t, err)
	defer l.Close()

	var hashes []string
	for _, doc := range []string{"A-100", "A-101", "A-102"} {
		h, err := l.MintAndAppend(context.Background(), types.Payload{"issuer": "Acme", "doc": doc, "qty": 12.5})
		require.NoError(t, err)
		hashes = append(hashes, h)
	}
	require.NoError(t, l.SetDifficulty(2))

	blocks, err := s.LoadChain()
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	for i, block := range blocks {
		assert.Equal(t, uint64(i), block.Index)
	}

	difficulty, err := s.GetDifficulty()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), difficulty)

	tip, err := s.GetChainTip()
	require.NoError(t, err)
	assert.Equal(t, hashes[2], tip)

	reopened, err := ledger.Open(blocks, difficulty)
	require.NoError(t, err)
	defer reopened.Close()

	assert.NoError(t, reopened.VerifyIntegrity())
	for _, h := range hashes {
		assert.True(t, reopened.Contains(h))
	}
}

func TestStorage_BlockLookups(t *testing.T) {
	s := newTestStorage(t)

	l, err := ledger.New(ledger.WithStore(s))
	require.NoError(t, err)
	defer l.Close()

	h, err := l.MintAndAppend(context.Background(), types.Payload{"doc": "x"})
	require.NoError(t, err)

	assert.True(t, s.BlockExists(h))
	assert.False(t, s.BlockExists("missing"))

	block, err := s.GetBlockByHash(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block.Index)
	assert.Equal(t, "x", block.Payload["doc"])

	_, err = s.GetBlock(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_RejectsOutOfOrderBlock(t *testing.T) {
	s := newTestStorage(t)

	err := s.SaveBlock(&types.Block{Index: 3, Hash: "abc", Payload: types.Payload{}})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	require.NoError(t, s.SaveBlock(&types.Block{Index: 0, Hash: "abc", Payload: types.Payload{}}))
	err = s.SaveBlock(&types.Block{Index: 1, Hash: "abc", Payload: types.Payload{}})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	height, err := s.GetChainHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)
}

func TestStorage_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStorage(dir)
	require.NoError(t, err)
	l, err := ledger.New(ledger.WithStore(s))
	require.NoError(t, err)
	h, err := l.MintAndAppend(context.Background(), types.Payload{"doc": "durable"})
	require.NoError(t, err)
	l.Close()
	require.NoError(t, s.Close())

	s, err = NewStorage(dir)
	require.NoError(t, err)
	defer s.Close()

	blocks, err := s.LoadChain()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, h, blocks[1].Hash)
	assert.NoError(t, ledger.VerifyBlocks(blocks, 1))
}

func TestStorage_Clear(t *testing.T) {
	s := newTestStorage(t)

	l, err := ledger.New(ledger.WithStore(s))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, s.Clear())

	blocks, err := s.LoadChain()
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func newArtifact(id, barCode, hash string) *types.Artifact {
	return &types.Artifact{
		ID:          id,
		CompanyName: "Acme",
		BarCode:     barCode,
		BatchNo:     "B-1",
		Status:      types.StatusValid,
		DateIssued:  time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
		Fingerprint: "fp-" + id,
		LedgerHash:  hash,
	}
}

func TestRecords_SaveAndGet(t *testing.T) {
	r := newTestStorage(t).Records()

	a := newArtifact("1", "BC-1", "h1")
	require.NoError(t, r.SaveArtifact(a))

	got, err := r.GetArtifact("1")
	require.NoError(t, err)
	assert.Equal(t, a.BarCode, got.BarCode)
	assert.Equal(t, a.Fingerprint, got.Fingerprint)
	assert.True(t, a.DateIssued.Equal(got.DateIssued))

	_, err = r.GetArtifact("2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecords_Uniqueness(t *testing.T) {
	r := newTestStorage(t).Records()

	require.NoError(t, r.SaveArtifact(newArtifact("1", "BC-1", "h1")))

	assert.ErrorIs(t, r.SaveArtifact(newArtifact("2", "BC-1", "h2")), ErrDuplicate)
	assert.ErrorIs(t, r.SaveArtifact(newArtifact("3", "BC-3", "h1")), ErrDuplicate)
	assert.ErrorIs(t, r.SaveArtifact(newArtifact("1", "BC-4", "h4")), ErrDuplicate)

	count, err := r.CountArtifacts()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecords_SharedAcrossCallers(t *testing.T) {
	s := newTestStorage(t)
	assert.Same(t, s.Records(), s.Records())

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Records().SaveArtifact(newArtifact(fmt.Sprintf("id-%d", i), "BC-1", fmt.Sprintf("h%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	var saved int
	for err := range errs {
		if err == nil {
			saved++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, saved)
}

func TestRecords_FindArtifact(t *testing.T) {
	r := newTestStorage(t).Records()

	a := newArtifact("1", "BC-1", "h1")
	b := newArtifact("2", "BC-2", "h2")
	b.CompanyName = "Globex"
	b.BatchNo = "B-2"
	require.NoError(t, r.SaveArtifact(a))
	require.NoError(t, r.SaveArtifact(b))

	tests := []struct {
		name  string
		query types.Query
		want  string
	}{
		{"by bar code", types.Query{BarCode: "BC-2"}, "2"},
		{"by company", types.Query{CompanyName: "Acme"}, "1"},
		{"by batch", types.Query{BatchNo: "B-2"}, "2"},
		{"all fields", types.Query{CompanyName: "Globex", BarCode: "BC-2", BatchNo: "B-2"}, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.FindArtifact(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}

	_, err := r.FindArtifact(types.Query{BarCode: "BC-1", CompanyName: "Globex"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindArtifact(types.Query{CompanyName: "Initech"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindArtifact(types.Query{})
	assert.Error(t, err)
}

func TestRecords_UpdateStatusAndList(t *testing.T) {
	r := newTestStorage(t).Records()

	require.NoError(t, r.SaveArtifact(newArtifact("1", "BC-1", "h1")))
	require.NoError(t, r.SaveArtifact(newArtifact("2", "BC-2", "h2")))

	updated, err := r.UpdateStatus("2", types.StatusRevoked)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevoked, updated.Status)

	got, err := r.GetArtifact("2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevoked, got.Status)
	assert.Equal(t, "h2", got.LedgerHash)

	_, err = r.UpdateStatus("9", types.StatusRevoked)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := r.ListArtifacts()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)
}
