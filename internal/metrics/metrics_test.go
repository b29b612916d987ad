package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestObserveMint(t *testing.T) {
	start := time.Now().Add(-time.Millisecond)

	if inc := delta(t, ledgerMintTotal.WithLabelValues("success"), func() {
		ObserveMint(2, nil, start)
	}); inc != 1 {
		t.Fatalf("expected mint success increment, got %v", inc)
	}

	if inc := delta(t, ledgerMintTotal.WithLabelValues("error"), func() {
		ObserveMint(12, errors.New("exhausted"), start)
	}); inc != 1 {
		t.Fatalf("expected mint error increment, got %v", inc)
	}
}

func TestGauges(t *testing.T) {
	SetChainHeight(7)
	if got := testutil.ToFloat64(ledgerHeight); got != 7 {
		t.Fatalf("expected height 7, got %v", got)
	}

	SetDifficulty(3)
	if got := testutil.ToFloat64(ledgerDifficulty); got != 3 {
		t.Fatalf("expected difficulty 3, got %v", got)
	}
}

func TestObserveIntegrityCheck(t *testing.T) {
	if inc := delta(t, ledgerIntegrityChecksTotal.WithLabelValues("HashMismatch"), func() {
		ObserveIntegrityCheck("HashMismatch")
	}); inc != 1 {
		t.Fatalf("expected integrity check increment, got %v", inc)
	}
}

func TestObserveVerification(t *testing.T) {
	if inc := delta(t, verifyOutcomesTotal.WithLabelValues("authentic"), func() {
		ObserveVerification("authentic", nil)
	}); inc != 1 {
		t.Fatalf("expected authentic increment, got %v", inc)
	}

	if inc := delta(t, verifyOutcomesTotal.WithLabelValues("error"), func() {
		ObserveVerification("authentic", errors.New("store down"))
	}); inc != 1 {
		t.Fatalf("expected error increment, got %v", inc)
	}
}

func TestObserveRecordStoreAndAudit(t *testing.T) {
	start := time.Now()

	if inc := delta(t, recordStoreOperationsTotal.WithLabelValues("save", "error"), func() {
		ObserveRecordStore("save", errors.New("dup"), start)
	}); inc != 1 {
		t.Fatalf("expected record store error increment, got %v", inc)
	}

	if inc := delta(t, auditRequestsTotal.WithLabelValues("get_blocks", "success"), func() {
		ObserveAuditRequest("get_blocks", nil)
	}); inc != 1 {
		t.Fatalf("expected audit increment, got %v", inc)
	}

	if inc := delta(t, verifyIssueTotal.WithLabelValues("success"), func() {
		ObserveIssue(nil)
	}); inc != 1 {
		t.Fatalf("expected issue increment, got %v", inc)
	}
}

func TestDifficultyLabel(t *testing.T) {
	if got := difficultyLabel(0); got != "0" {
		t.Fatalf("got %q", got)
	}
	if got := difficultyLabel(8); got != "8" {
		t.Fatalf("got %q", got)
	}
	if got := difficultyLabel(9); got != "9+" {
		t.Fatalf("got %q", got)
	}
}
