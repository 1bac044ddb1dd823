package rental

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smsbra/otp-api/internal/domain/catalog"
	"github.com/smsbra/otp-api/internal/domain/ledger"
	"github.com/smsbra/otp-api/internal/domain/ledger/ledgertest"
	"github.com/smsbra/otp-api/internal/domain/provider"
	"github.com/smsbra/otp-api/internal/domain/provider/providertest"
	"github.com/smsbra/otp-api/internal/pkg/resilience"
)

type harness struct {
	svc     *Service
	repo    *memRepo
	store   *ledgertest.Store
	ledger  *ledger.Service
	gateway *providertest.Gateway
	clock   *clock
	account uuid.UUID
}

func newHarness(t *testing.T, balance string) *harness {
	t.Helper()
	store := ledgertest.NewStore()
	accountID := store.AddAccount(money(balance))
	ledgerSvc := ledger.NewService(store, nil)
	gw := providertest.New()
	repo := newMemRepo()
	clk := newClock()

	upstream := resilience.New(resilience.Config{
		Name:             "test_provider",
		MaxRetries:       2,
		BaseDelay:        time.Millisecond,
		MaxDelay:         2 * time.Millisecond,
		FailureThreshold: 100,
		FailureWindow:    100,
		Retryable:        provider.IsRetryable,
		OpenErr:          provider.ErrUnavailable,
	})

	cat := newFakeCatalog(
		catalog.Service{ID: uuid.New(), Name: "WhatsApp", Code: "wa", PricePerRental: money("0.50"), Active: true},
		catalog.Service{ID: uuid.New(), Name: "Legacy", Code: "lg", PricePerRental: money("0.10"), Active: false},
	)

	svc := NewService(repo, ledgerSvc, nil, cat, gw, upstream, nil, Config{
		Window:         2 * time.Minute,
		RefundUnused:   true,
		PersistRetries: 2,
	})
	svc.now = clk.Now

	return &harness{svc: svc, repo: repo, store: store, ledger: ledgerSvc, gateway: gw, clock: clk, account: accountID}
}

func (h *harness) create(t *testing.T) *Rental {
	t.Helper()
	r, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	require.NoError(t, err)
	return r
}

func (h *harness) balance(t *testing.T) string {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), h.account)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func (h *harness) reconciled(t *testing.T) {
	t.Helper()
	rec, err := h.ledger.Reconcile(context.Background(), h.account)
	require.NoError(t, err)
	assert.True(t, rec.Consistent, "balance %s ledger %s", rec.Balance, rec.LedgerSum)
}

func TestCreateUntilCreditsRunOut(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()

	first := h.create(t)
	assert.Equal(t, StatusActive, first.Status)
	assert.Equal(t, "0.50", first.Cost.StringFixed(2))
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), first.DeadlineAt)
	assert.Equal(t, "0.50", h.balance(t))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))

	h.create(t)
	assert.Equal(t, "0.00", h.balance(t))

	_, err := h.svc.Create(ctx, CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, "0.00", h.balance(t))
	assert.Equal(t, 2, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, 2, h.gateway.Calls(providertest.OpRequestNumber), "provider must not be asked without credits")
	h.reconciled(t)
}

func TestCreateProviderRejected(t *testing.T) {
	h := newHarness(t, "1.00")
	h.gateway.FailNext(providertest.OpRequestNumber, provider.Rejected(provider.ReasonNoNumbers, "NO_NUMBERS"))

	_, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	require.ErrorIs(t, err, provider.ErrRejected)
	reason, ok := provider.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, provider.ReasonNoNumbers, reason)

	assert.Equal(t, 1, h.gateway.Calls(providertest.OpRequestNumber), "rejections are not retried")
	assert.Equal(t, 0, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, "1.00", h.balance(t))
}

func TestCreateRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, "1.00")
	h.gateway.FailNext(providertest.OpRequestNumber, provider.ErrUnavailable, provider.ErrUnavailable)

	r := h.create(t)
	assert.NotEmpty(t, r.ActivationID)
	assert.Equal(t, 3, h.gateway.Calls(providertest.OpRequestNumber))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))
}

func TestCreateGivesUpAfterBoundedRetries(t *testing.T) {
	h := newHarness(t, "1.00")
	h.gateway.FailAlways(providertest.OpRequestNumber, provider.ErrUnavailable)

	_, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, 3, h.gateway.Calls(providertest.OpRequestNumber))
	assert.Equal(t, "1.00", h.balance(t))
}

func TestCreateServiceChecks(t *testing.T) {
	h := newHarness(t, "1.00")

	_, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "lg"})
	assert.ErrorIs(t, err, ErrServiceInactive)
	_, err = h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "zz"})
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Equal(t, 0, h.gateway.Calls(providertest.OpRequestNumber))
}

func TestCreateDebitFailureReleasesNumber(t *testing.T) {
	h := newHarness(t, "1.00")
	h.store.FailNext("debit", ledger.ErrInsufficientCredits)

	_, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 1, h.gateway.Calls(providertest.OpCancel))
	assert.Equal(t, "1.00", h.balance(t))
}

func TestCreatePersistRetried(t *testing.T) {
	h := newHarness(t, "1.00")
	h.repo.createErrs = []error{ErrInternal}

	r := h.create(t)
	stored, err := h.repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ActivationID, stored.ActivationID)
	assert.Equal(t, 0, h.gateway.Calls(providertest.OpCancel))
}

func TestCreatePersistFailureCompensates(t *testing.T) {
	h := newHarness(t, "1.00")
	h.repo.createErrs = []error{ErrInternal, ErrInternal, ErrInternal}

	_, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	require.ErrorIs(t, err, ErrInternal)

	assert.Equal(t, 1, h.gateway.Calls(providertest.OpCancel))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRefund))
	assert.Equal(t, "1.00", h.balance(t))
	h.reconciled(t)
}

func TestHandleCodeIsIdempotent(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)

	h.clock.Advance(30 * time.Second)
	done, err := h.svc.HandleCode(ctx, r.ActivationID, "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "123456", *done.Code)
	stamped := *done.LastCodeAt

	h.clock.Advance(10 * time.Second)
	again, err := h.svc.HandleCode(ctx, r.ActivationID, "123456")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)
	assert.Equal(t, stamped, *again.LastCodeAt)

	assert.Equal(t, 1, h.gateway.Calls(providertest.OpConfirm))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, 0, h.store.Count(h.account, ledger.KindRefund))
}

func TestHandleCodeConfirmFailureKeepsCompletion(t *testing.T) {
	h := newHarness(t, "1.00")
	h.gateway.FailAlways(providertest.OpConfirm, provider.ErrUnavailable)
	r := h.create(t)

	done, err := h.svc.HandleCode(context.Background(), r.ActivationID, "999")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 3, h.gateway.Calls(providertest.OpConfirm))
}

func TestHandleCodeOnTerminalRental(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)

	_, err := h.svc.Cancel(ctx, h.account, r.ID, "")
	require.NoError(t, err)

	_, err = h.svc.HandleCode(ctx, r.ActivationID, "111")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.svc.HandleCode(ctx, r.ActivationID, "  ")
	assert.ErrorIs(t, err, ErrEmptyCode)

	_, err = h.svc.HandleCode(ctx, "unknown", "111")
	assert.ErrorIs(t, err, ErrRentalNotFound)
}

func TestCodeJustBeforeDeadlineWinsOverExpiry(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)

	h.clock.Advance(119 * time.Second)
	_, err := h.svc.HandleCode(ctx, r.ActivationID, "424242")
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	expired, err := h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired)

	got, err := h.repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 0, h.gateway.Calls(providertest.OpCancel))
	assert.Equal(t, 0, h.store.Count(h.account, ledger.KindRefund))
}

func TestExpireAtDeadline(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)

	h.clock.Advance(119 * time.Second)
	expired, err := h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired, "not due yet")

	h.clock.Advance(time.Second)
	expired, err = h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, expired)

	got, _ := h.repo.GetByID(ctx, r.ID)
	assert.Equal(t, StatusExpired, got.Status)
	assert.Equal(t, ReasonExpired, *got.EndReason)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, 1, h.gateway.Calls(providertest.OpCancel))

	expired, err = h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired, "expiry is idempotent")

	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRefund))
	assert.Equal(t, "1.00", h.balance(t))
	h.reconciled(t)
}

func TestExpireWithoutRefundWhenDisabled(t *testing.T) {
	h := newHarness(t, "1.00")
	h.svc.cfg.RefundUnused = false
	r := h.create(t)

	h.clock.Advance(3 * time.Minute)
	expired, err := h.svc.Expire(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, "0.50", h.balance(t))
}

func TestExpireProviderDownLeavesRentalActive(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)
	h.gateway.FailAlways(providertest.OpCancel, provider.ErrUnavailable)

	h.clock.Advance(3 * time.Minute)
	_, err := h.svc.Expire(ctx, r.ID)
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	got, _ := h.repo.GetByID(ctx, r.ID)
	assert.Equal(t, StatusActive, got.Status)

	h.gateway.FailAlways(providertest.OpCancel, nil)
	expired, err := h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestExpireProviderRejectionStillExpires(t *testing.T) {
	h := newHarness(t, "1.00")
	r := h.create(t)
	h.gateway.FailNext(providertest.OpCancel, provider.Rejected(provider.ReasonNoActivation, "NO_ACTIVATION"))

	h.clock.Advance(3 * time.Minute)
	expired, err := h.svc.Expire(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestReactivateAfterCancelFails(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)

	cancelled, err := h.svc.Cancel(ctx, h.account, r.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", *cancelled.EndReason)

	_, err = h.svc.Reactivate(ctx, h.account, r.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, 0, h.gateway.Calls(providertest.OpAdditionalCode))
}

func TestReactivateChargesAndRearms(t *testing.T) {
	h := newHarness(t, "2.00")
	ctx := context.Background()
	r := h.create(t)

	h.clock.Advance(90 * time.Second)
	re, err := h.svc.Reactivate(ctx, h.account, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, re.Reactivations)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), re.DeadlineAt)
	assert.Equal(t, 2, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, "1.00", h.balance(t))

	h.clock.Advance(time.Minute)
	expired, err := h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, expired, "deadline was re-armed")

	h.clock.Advance(time.Minute)
	expired, err = h.svc.Expire(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, "2.00", h.balance(t), "both charges refunded")
	h.reconciled(t)
}

func TestReactivateNeedsCredits(t *testing.T) {
	h := newHarness(t, "0.50")
	r := h.create(t)

	_, err := h.svc.Reactivate(context.Background(), h.account, r.ID)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 0, h.gateway.Calls(providertest.OpAdditionalCode))
}

func TestReactivateProviderDownChangesNothing(t *testing.T) {
	h := newHarness(t, "2.00")
	ctx := context.Background()
	r := h.create(t)
	h.gateway.FailAlways(providertest.OpAdditionalCode, provider.ErrUnavailable)

	_, err := h.svc.Reactivate(ctx, h.account, r.ID)
	assert.ErrorIs(t, err, provider.ErrUnavailable)

	got, _ := h.repo.GetByID(ctx, r.ID)
	assert.Equal(t, 0, got.Reactivations)
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))
}

func TestReactivateLosingRaceRefunds(t *testing.T) {
	h := newHarness(t, "2.00")
	r := h.create(t)
	h.repo.conflictsNext = 1

	_, err := h.svc.Reactivate(context.Background(), h.account, r.ID)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, 2, h.store.Count(h.account, ledger.KindRentalDebit))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRefund))
	assert.Equal(t, "1.50", h.balance(t))
	h.reconciled(t)
}

func TestCancelFailuresKeepState(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()
	r := h.create(t)

	h.gateway.FailAlways(providertest.OpCancel, provider.ErrUnavailable)
	_, err := h.svc.Cancel(ctx, h.account, r.ID, "")
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	got, _ := h.repo.GetByID(ctx, r.ID)
	assert.Equal(t, StatusActive, got.Status)

	h.gateway.FailAlways(providertest.OpCancel, provider.Rejected(provider.ReasonBadStatus, "BAD_STATUS"))
	_, err = h.svc.Cancel(ctx, h.account, r.ID, "")
	assert.ErrorIs(t, err, provider.ErrRejected)

	h.gateway.FailAlways(providertest.OpCancel, nil)
	done, err := h.svc.Cancel(ctx, h.account, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonUserCancelled, *done.EndReason)

	_, err = h.svc.Cancel(ctx, h.account, r.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRefund))
}

func TestCancelRetriesVersionConflict(t *testing.T) {
	h := newHarness(t, "1.00")
	r := h.create(t)
	h.repo.conflictsNext = 1

	done, err := h.svc.Cancel(context.Background(), h.account, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, done.Status)
}

func TestForeignRentalIsNotFound(t *testing.T) {
	h := newHarness(t, "1.00")
	r := h.create(t)
	stranger := uuid.New()

	_, err := h.svc.Status(context.Background(), stranger, r.ID)
	assert.ErrorIs(t, err, ErrRentalNotFound)
	_, err = h.svc.Cancel(context.Background(), stranger, r.ID, "")
	assert.ErrorIs(t, err, ErrRentalNotFound)
	_, err = h.svc.Reactivate(context.Background(), stranger, r.ID)
	assert.ErrorIs(t, err, ErrRentalNotFound)
}

func TestStatusSyncsWithProvider(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()

	waiting := h.create(t)
	got, err := h.svc.Status(ctx, h.account, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	h.gateway.DeliverCode(waiting.ActivationID, "555000")
	got, err = h.svc.Status(ctx, h.account, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "555000", *got.Code)

	gone := h.create(t)
	h.gateway.SetStatus(gone.ActivationID, provider.Status{Kind: provider.StatusCancelled})
	got, err = h.svc.Status(ctx, h.account, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonProviderCancelled, *got.EndReason)
	assert.Equal(t, "0.50", h.balance(t))
}

func TestStatusProviderDownReturnsStoredState(t *testing.T) {
	h := newHarness(t, "1.00")
	r := h.create(t)
	h.gateway.FailAlways(providertest.OpPollStatus, provider.ErrUnavailable)

	got, err := h.svc.Status(context.Background(), h.account, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestProviderCallback(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()

	a := h.create(t)
	got, err := h.svc.ProviderCallback(ctx, Callback{ActivationID: a.ActivationID, Code: "7777"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	b := h.create(t)
	got, err = h.svc.ProviderCallback(ctx, Callback{ActivationID: b.ActivationID, Status: provider.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	got, err = h.svc.ProviderCallback(ctx, Callback{ActivationID: b.ActivationID, Status: provider.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRefund))

	_, err = h.svc.ProviderCallback(ctx, Callback{ActivationID: "nope", Status: provider.StatusAwaitingCode})
	assert.ErrorIs(t, err, ErrRentalNotFound)
}

func TestProviderCallbackRoutesOnStatus(t *testing.T) {
	h := newHarness(t, "1.00")
	ctx := context.Background()

	r := h.create(t)
	got, err := h.svc.ProviderCallback(ctx, Callback{ActivationID: r.ActivationID, Status: provider.StatusCancelled, Code: "1234"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Nil(t, got.Code)

	r = h.create(t)
	got, err = h.svc.ProviderCallback(ctx, Callback{ActivationID: r.ActivationID, Status: provider.StatusAwaitingRetry, Code: "1234"})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.Code)

	got, err = h.svc.ProviderCallback(ctx, Callback{ActivationID: r.ActivationID, Status: provider.StatusCodeReceived, Code: "1234"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestReactivateLogsUnpaidRearm(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	h := newHarness(t, "1.00")
	r := h.create(t)
	h.store.FailNext("debit", ledger.ErrInsufficientCredits)

	_, err := h.svc.Reactivate(context.Background(), h.account, r.ID)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, 1, h.gateway.Calls(providertest.OpAdditionalCode))
	assert.Equal(t, 1, h.store.Count(h.account, ledger.KindRentalDebit))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, r.ID.String())
	assert.Contains(t, out, r.ActivationID)
	assert.Contains(t, out, "needs reconciliation")
}

func TestListFilters(t *testing.T) {
	h := newHarness(t, "5.00")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.create(t)
		h.clock.Advance(time.Second)
	}
	first, _, _ := h.repo.List(ctx, h.account, ListFilter{Page: 1, Limit: 1})
	h.repo.forceStatus(first[0].ID, StatusCompleted)

	page, err := h.svc.List(ctx, h.account, ListFilter{Status: StatusActive})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 20, page.Limit)

	page, err = h.svc.List(ctx, h.account, ListFilter{ServiceCode: " WA ", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 100, page.Limit)

	_, err = h.svc.List(ctx, h.account, ListFilter{Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestExpireDueStopsOnOutage(t *testing.T) {
	h := newHarness(t, "5.00")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.create(t)
	}

	h.clock.Advance(3 * time.Minute)
	h.gateway.FailNext(providertest.OpCancel, nil, provider.ErrUnavailable, provider.ErrUnavailable, provider.ErrUnavailable)
	res, err := h.svc.ExpireDue(ctx, DueCursor{}, 10)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 3, res.Scanned)

	res, err = h.svc.ExpireDue(ctx, res.Next, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Expired)
	h.reconciled(t)
}

func TestStoreErrorsSurface(t *testing.T) {
	h := newHarness(t, "1.00")
	boom := errors.New("db down")
	h.store.FailNext("balance", boom)

	_, err := h.svc.Create(context.Background(), CreateRequest{AccountID: h.account, ServiceCode: "wa"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.gateway.Calls(providertest.OpRequestNumber))
}
