package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/payflow/payflow/internal/adapter/sqlite"
	"github.com/payflow/payflow/internal/domain"
	"github.com/payflow/payflow/internal/fees"
)

// newTestStore creates a file-backed SQLite store in a temp dir. A file is
// used instead of :memory: so concurrent connections in the claim race
// test share one database.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "payflow.db"))
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return d
}

func testMerchant(t *testing.T, store *sqlite.Store) domain.Merchant {
	t.Helper()
	m := domain.NewMerchant("m-1", "Acme Store", "acme", dec(t, "3.5"), "VES", "key-acme", "mercantil")
	if err := store.Merchants().Create(context.Background(), m); err != nil {
		t.Fatalf("creating test merchant: %v", err)
	}
	return m
}

func newTestSession(t *testing.T, store *sqlite.Store, id string) domain.Session {
	t.Helper()
	m := testMerchant(t, store)
	return buildSession(t, m, id)
}

func buildSession(t *testing.T, m domain.Merchant, id string) domain.Session {
	t.Helper()
	amount := dec(t, "100.00")
	fee, net := fees.Compute(amount, m.CommissionPercent)
	return domain.NewSession(id, m, amount, fee, net, "VES", "order #42", "shop",
		"https://shop.example/ok", "https://shop.example/cancel")
}

func mustCreate(t *testing.T, store *sqlite.Store, s domain.Session) {
	t.Helper()
	if err := store.Sessions().Create(context.Background(), s); err != nil {
		t.Fatalf("mustCreate failed: %v", err)
	}
}

func strp(s string) *string { return &s }

func TestCreate_And_GetByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := newTestSession(t, store, "s-1")
	mustCreate(t, store, session)

	got, err := store.Sessions().GetByID(ctx, "s-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if got.ID != "s-1" {
		t.Errorf("ID = %q, want %q", got.ID, "s-1")
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, domain.StatusPending)
	}
	if !got.Amount.Equal(dec(t, "100.00")) {
		t.Errorf("Amount = %s, want 100.00", got.Amount)
	}
	if !got.PlatformFee.Equal(dec(t, "3.50")) {
		t.Errorf("PlatformFee = %s, want 3.50", got.PlatformFee)
	}
	if !got.MerchantNet.Equal(dec(t, "96.50")) {
		t.Errorf("MerchantNet = %s, want 96.50", got.MerchantNet)
	}
	if !got.PlatformFee.Add(got.MerchantNet).Equal(got.Amount) {
		t.Error("fee + net != amount after round trip")
	}
	if got.ProviderCode != "mercantil" {
		t.Errorf("ProviderCode = %q, want mercantil", got.ProviderCode)
	}
	if got.PaidAt != nil || got.ProcessingStartedAt != nil {
		t.Error("lifecycle timestamps should be unset on a new session")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Sessions().GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCreate_DuplicateIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	m := testMerchant(t, store)

	first := buildSession(t, m, "s-1")
	first.IdempotencyKey = strp("idem-1")
	mustCreate(t, store, first)

	second := buildSession(t, m, "s-2")
	second.IdempotencyKey = strp("idem-1")

	err := store.Sessions().Create(ctx, second)
	if !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	got, err := store.Sessions().GetByIdempotencyKey(ctx, m.ID, "idem-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey failed: %v", err)
	}
	if got.ID != "s-1" {
		t.Errorf("lookup returned %q, want the original session s-1", got.ID)
	}
}

func TestCreate_NilIdempotencyKeysDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	m := testMerchant(t, store)

	mustCreate(t, store, buildSession(t, m, "s-1"))
	mustCreate(t, store, buildSession(t, m, "s-2"))
}

func TestClaimForProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))

	claimed, ok, err := store.Sessions().ClaimForProcessing(ctx, "s-1")
	if err != nil {
		t.Fatalf("ClaimForProcessing failed: %v", err)
	}
	if !ok {
		t.Fatal("first claim should succeed")
	}
	if claimed.Status != domain.StatusProcessing {
		t.Errorf("Status = %q, want processing", claimed.Status)
	}
	if claimed.ProcessingStartedAt == nil {
		t.Fatal("ProcessingStartedAt should be set on first claim")
	}

	firstStarted := *claimed.ProcessingStartedAt

	// Second claim observes a no-op and the original timestamp.
	again, ok, err := store.Sessions().ClaimForProcessing(ctx, "s-1")
	if err != nil {
		t.Fatalf("second ClaimForProcessing failed: %v", err)
	}
	if ok {
		t.Error("second claim should be a no-op")
	}
	if again.ProcessingStartedAt == nil || !again.ProcessingStartedAt.Equal(firstStarted) {
		t.Error("ProcessingStartedAt must not change on a repeat claim")
	}
}

func TestClaimForProcessing_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Sessions().ClaimForProcessing(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestClaimForProcessing_ConcurrentClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))

	const claimers = 10
	var wg sync.WaitGroup
	results := make(chan bool, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Sessions().ClaimForProcessing(ctx, "s-1")
			if err != nil {
				t.Errorf("concurrent claim failed: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("claim winners = %d, want exactly 1", wins)
	}
}

// Concurrent inserts race the connection pool rather than the status
// condition: every writer must succeed, none may surface SQLITE_BUSY.
func TestCreate_ConcurrentWritersSerialized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	merchant := testMerchant(t, store)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := store.Sessions().Create(ctx, buildSession(t, merchant, id)); err != nil {
				t.Errorf("concurrent create %s failed: %v", id, err)
			}
		}(fmt.Sprintf("s-%d", i))
	}
	wg.Wait()

	sessions, err := store.Sessions().List(ctx, domain.SessionFilter{MerchantID: merchant.ID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != writers {
		t.Errorf("got %d sessions, want %d", len(sessions), writers)
	}
}

func TestMarkPaid_FromProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))
	if _, ok, _ := store.Sessions().ClaimForProcessing(ctx, "s-1"); !ok {
		t.Fatal("claim failed")
	}

	paid, ok, err := store.Sessions().MarkPaid(ctx, "s-1", domain.Settlement{
		ProviderRef:    strp("REF-1"),
		ProviderStatus: strp("aprobado"),
		PaymentMethod:  strp("c2p"),
	})
	if err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if !ok {
		t.Fatal("MarkPaid from processing should apply")
	}
	if paid.Status != domain.StatusPaid {
		t.Errorf("Status = %q, want paid", paid.Status)
	}
	if paid.PaidAt == nil {
		t.Fatal("PaidAt should be set")
	}
	if paid.ProviderRef == nil || *paid.ProviderRef != "REF-1" {
		t.Error("ProviderRef not recorded")
	}
}

func TestMarkPaid_DirectlyFromPending(t *testing.T) {
	// Reconciliation can settle a session that was never claimed.
	store := newTestStore(t)

	mustCreate(t, store, newTestSession(t, store, "s-1"))

	paid, ok, err := store.Sessions().MarkPaid(context.Background(), "s-1", domain.Settlement{})
	if err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if !ok || paid.Status != domain.StatusPaid {
		t.Errorf("applied=%v status=%q, want applied paid", ok, paid.Status)
	}
}

func TestMarkPaid_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))
	first, ok, err := store.Sessions().MarkPaid(ctx, "s-1", domain.Settlement{ProviderRef: strp("REF-1")})
	if err != nil || !ok {
		t.Fatalf("first MarkPaid: ok=%v err=%v", ok, err)
	}

	// Duplicate success notification: merges but never moves PaidAt, and
	// absent fields keep their existing values.
	second, _, err := store.Sessions().MarkPaid(ctx, "s-1", domain.Settlement{ProviderStatus: strp("approved")})
	if err != nil {
		t.Fatalf("second MarkPaid errored: %v", err)
	}
	if !second.PaidAt.Equal(*first.PaidAt) {
		t.Error("PaidAt must not change on duplicate MarkPaid")
	}
	if second.ProviderRef == nil || *second.ProviderRef != "REF-1" {
		t.Error("existing ProviderRef lost during merge")
	}
	if second.ProviderStatus == nil || *second.ProviderStatus != "approved" {
		t.Error("new ProviderStatus not merged")
	}
}

func TestMarkPaid_RejectedWhenFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))
	if _, ok, _ := store.Sessions().MarkFailed(ctx, "s-1", domain.Failure{Code: strp("0051")}); !ok {
		t.Fatal("MarkFailed did not apply")
	}

	// A late paid signal must not resurrect a failed session.
	got, ok, err := store.Sessions().MarkPaid(ctx, "s-1", domain.Settlement{})
	if err != nil {
		t.Fatalf("MarkPaid errored: %v", err)
	}
	if ok {
		t.Error("MarkPaid on a failed session must be a no-op")
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %q, want failed preserved", got.Status)
	}
}

func TestMarkFailed_RejectedWhenPaid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))
	if _, ok, _ := store.Sessions().MarkPaid(ctx, "s-1", domain.Settlement{}); !ok {
		t.Fatal("MarkPaid did not apply")
	}

	got, ok, err := store.Sessions().MarkFailed(ctx, "s-1", domain.Failure{Code: strp("X")})
	if err != nil {
		t.Fatalf("MarkFailed errored: %v", err)
	}
	if ok {
		t.Error("MarkFailed on a paid session must be a no-op")
	}
	if got.Status != domain.StatusPaid {
		t.Errorf("Status = %q, want paid preserved", got.Status)
	}
}

func TestMarkFailed_RecordsFailureInfo(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, newTestSession(t, store, "s-1"))

	got, ok, err := store.Sessions().MarkFailed(context.Background(), "s-1", domain.Failure{
		Code:           strp("0051"),
		Reason:         strp("insufficient funds"),
		ProviderStatus: strp("rechazado"),
	})
	if err != nil || !ok {
		t.Fatalf("MarkFailed: ok=%v err=%v", ok, err)
	}
	if got.FailureCode == nil || *got.FailureCode != "0051" {
		t.Error("FailureCode not recorded")
	}
	if got.FailureReason == nil || *got.FailureReason != "insufficient funds" {
		t.Error("FailureReason not recorded")
	}
}

func TestMarkPaid_ClearsFailureFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))

	got, ok, err := store.Sessions().MarkPaid(ctx, "s-1", domain.Settlement{})
	if err != nil || !ok {
		t.Fatalf("MarkPaid: ok=%v err=%v", ok, err)
	}
	if got.FailureCode != nil || got.FailureReason != nil {
		t.Error("failure fields should be empty on a paid session")
	}
}

func TestUpdate_MergesMetadataWithoutStatusChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, newTestSession(t, store, "s-1"))

	now := time.Now().UTC()
	got, err := store.Sessions().Update(ctx, "s-1", domain.SessionPatch{
		ProviderStatus:     strp("en_proceso"),
		LastProviderSyncAt: &now,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, Update must never change status", got.Status)
	}
	if got.ProviderStatus == nil || *got.ProviderStatus != "en_proceso" {
		t.Error("ProviderStatus not merged")
	}
	if got.LastProviderSyncAt == nil {
		t.Error("LastProviderSyncAt not recorded")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Sessions().Update(context.Background(), "ghost", domain.SessionPatch{ProviderStatus: strp("x")})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestList_FiltersByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	m := testMerchant(t, store)

	mustCreate(t, store, buildSession(t, m, "s-1"))
	mustCreate(t, store, buildSession(t, m, "s-2"))
	mustCreate(t, store, buildSession(t, m, "s-3"))
	if _, ok, _ := store.Sessions().MarkPaid(ctx, "s-2", domain.Settlement{}); !ok {
		t.Fatal("MarkPaid did not apply")
	}

	paid := domain.StatusPaid
	got, err := store.Sessions().List(ctx, domain.SessionFilter{MerchantID: m.ID, Status: &paid})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s-2" {
		t.Errorf("List = %d sessions, want only s-2", len(got))
	}

	all, err := store.Sessions().List(ctx, domain.SessionFilter{MerchantID: m.ID, Limit: 2})
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List limit 2 returned %d", len(all))
	}
}

func TestList_ScopedToMerchant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	m := testMerchant(t, store)

	other := domain.NewMerchant("m-2", "Other", "other", dec(t, "1"), "VES", "key-other", "mercantil")
	if err := store.Merchants().Create(ctx, other); err != nil {
		t.Fatalf("creating second merchant: %v", err)
	}

	mustCreate(t, store, buildSession(t, m, "s-1"))
	mustCreate(t, store, buildSession(t, other, "s-2"))

	got, err := store.Sessions().List(ctx, domain.SessionFilter{MerchantID: m.ID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s-1" {
		t.Error("List leaked sessions across merchants")
	}
}
