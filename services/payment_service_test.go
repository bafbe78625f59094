package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-sync/models"
	"github.com/yeremiapane/table-sync/repository"
)

func setupPaymentService(t *testing.T) (*PaymentService, *repository.Repository) {
	t.Helper()
	repo := setupTestRepo(t)
	return NewPaymentService(repo, newTestCodec(t, "test-secret")), repo
}

func countByState(payments []models.Payment, key models.ObligationKey) map[string]int {
	out := map[string]int{}
	for _, p := range payments {
		if p.ObligationKey == key {
			out[p.State]++
		}
	}
	return out
}

func TestQuote(t *testing.T) {
	svc, _ := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, svc.repo)

	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Ana")})
	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(10, 0), quote.Amount)

	// key ganda dihitung sekali
	quote, err = svc.Quote(ctx, order.ID, []models.ObligationKey{
		models.ByParticipant("Ana"), models.ByParticipant("Bob"), models.ByParticipant("Ana"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(20, 0), quote.Amount)
	assert.Len(t, quote.Lines, 2)

	_, err = svc.Quote(ctx, order.ID, nil)
	assert.ErrorIs(t, err, models.ErrNothingToPay)

	_, err = svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Carol")})
	assert.ErrorIs(t, err, models.ErrNothingToPay)
}

func TestReserveSupersedesLiveAttempts(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, repo)
	ana := models.ByParticipant("Ana")

	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{ana})
	require.NoError(t, err)

	_, _, err = svc.Reserve(ctx, quote, models.PaymentMethodCash)
	require.NoError(t, err)
	first, _, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)
	second, records, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	require.Len(t, records, 1)
	assert.Equal(t, models.NewMoney(10, 0), records[0].Amount)

	payments, err := repo.ListPayments(ctx, order.ID)
	require.NoError(t, err)
	states := countByState(payments, ana)
	assert.Equal(t, 1, states[models.PaymentStatePending], "only the newest attempt stays live")
	assert.Equal(t, 2, states[models.PaymentStateFailed])

	_, _, err = svc.Reserve(ctx, quote, "bitcoin")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestReconcileApprovedIsIdempotent(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, repo)

	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Ana"), models.ByParticipant("Bob")})
	require.NoError(t, err)
	ref, _, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)

	result, err := svc.Reconcile(ctx, ref, OutcomeApproved, models.NewMoney(20, 0), "trx-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileProcessed, result.Status)
	assert.True(t, result.FullyPaid)
	assert.Len(t, result.Records, 2)

	again, err := svc.Reconcile(ctx, ref, OutcomeApproved, models.NewMoney(20, 0), "trx-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileAlreadyProcessed, again.Status)

	// refund setelah lunas tidak mengubah apa pun
	refund, err := svc.Reconcile(ctx, ref, OutcomeRefunded, 0, "trx-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileAlreadyProcessed, refund.Status)

	payments, err := repo.ListPayments(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countByState(payments, models.ByParticipant("Ana"))[models.PaymentStatePaid])
	assert.Equal(t, 1, countByState(payments, models.ByParticipant("Bob"))[models.PaymentStatePaid])

	_, err = svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Ana")})
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)
}

func TestReconcileAmountMismatch(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, repo)

	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Bob")})
	require.NoError(t, err)
	ref, _, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)

	_, err = svc.Reconcile(ctx, ref, OutcomeApproved, models.NewMoney(9, 99), "trx-1")
	assert.ErrorIs(t, err, models.ErrAmountMismatch)

	paid, err := svc.KeyPaid(ctx, order.ID, models.ByParticipant("Bob"))
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestReconcileRejectedThenIgnored(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, repo)

	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Ana")})
	require.NoError(t, err)
	ref, _, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)

	pending, err := svc.Reconcile(ctx, ref, OutcomePending, 0, "trx-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileIgnored, pending.Status)

	result, err := svc.Reconcile(ctx, ref, OutcomeRejected, 0, "trx-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileProcessed, result.Status)
	require.Len(t, result.Records, 1)
	assert.Equal(t, models.PaymentStateFailed, result.Records[0].State)
	assert.False(t, result.FullyPaid)

	again, err := svc.Reconcile(ctx, ref, OutcomeRejected, 0, "trx-1")
	require.NoError(t, err)
	assert.Equal(t, ReconcileIgnored, again.Status)

	_, err = svc.Reconcile(ctx, ref, "mystery", 0, "trx-1")
	assert.ErrorIs(t, err, ErrUnknownOutcome)
}

func TestReconcileLateApprovalOfSupersededAttempt(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, repo)

	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{models.ByParticipant("Ana")})
	require.NoError(t, err)
	oldRef, _, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)
	newRef, _, err := svc.Reserve(ctx, quote, models.PaymentMethodGateway)
	require.NoError(t, err)

	// percobaan lama ternyata dibayar: key belum lunas sehingga tetap diterima
	result, err := svc.Reconcile(ctx, oldRef, OutcomeApproved, models.NewMoney(10, 0), "trx-old")
	require.NoError(t, err)
	assert.Equal(t, ReconcileProcessed, result.Status)

	_, err = svc.Reconcile(ctx, newRef, OutcomeApproved, models.NewMoney(10, 0), "trx-new")
	assert.ErrorIs(t, err, models.ErrAttemptSuperseded)

	payments, err := repo.ListPayments(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countByState(payments, models.ByParticipant("Ana"))[models.PaymentStatePaid])
}

func TestReconcileRejectsForeignReference(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()
	order, _ := seedItems(t, repo)

	_, err := svc.Reconcile(ctx, "forged", OutcomeApproved, models.NewMoney(10, 0), "trx")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// token valid tetapi tidak pernah dipesan
	token, err := svc.codec.Encode(order.ID, []models.ObligationKey{models.ByParticipant("Ana")})
	require.NoError(t, err)
	_, err = svc.Reconcile(ctx, token, OutcomeApproved, models.NewMoney(10, 0), "trx")
	assert.ErrorIs(t, err, models.ErrPaymentNotFound)
}

func TestObligationTableAndFullyPaid(t *testing.T) {
	svc, repo := setupPaymentService(t)
	ctx := context.Background()

	table := seedTable(t, repo, 1, "B2")
	empty, err := repo.GetOrCreateOpenOrder(ctx, table.ID)
	require.NoError(t, err)
	paid, err := svc.IsFullyPaid(ctx, empty.ID)
	require.NoError(t, err)
	assert.False(t, paid, "an order without items is not fully paid")

	order, items := seedItems(t, repo)
	ana := models.ByParticipant("Ana")
	quote, err := svc.Quote(ctx, order.ID, []models.ObligationKey{ana})
	require.NoError(t, err)
	_, _, err = svc.Reserve(ctx, quote, models.PaymentMethodCash)
	require.NoError(t, err)

	ob, err := svc.ObligationTable(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(20, 0), ob.Total)
	assert.Equal(t, models.PaymentStatePendingCash, ob.Obligations[0].State)

	_, err = svc.ConfirmCash(ctx, order.ID, ana, nil)
	require.NoError(t, err)
	_, err = svc.ConfirmCash(ctx, order.ID, ana, nil)
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)

	ob, err = svc.ObligationTable(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NewMoney(10, 0), ob.Paid)
	assert.Equal(t, models.NewMoney(10, 0), ob.Remaining)
	assert.False(t, ob.FullyPaid)

	keyPaid, err := svc.KeyPaid(ctx, order.ID, ana)
	require.NoError(t, err)
	assert.True(t, keyPaid)

	// Bob dibatalkan: kewajiban Bob hilang dan order dianggap lunas
	require.NoError(t, repo.SetItemState(ctx, order.ID, items["Bob"].ID, models.ItemStateCancelled))
	fully, err := svc.IsFullyPaid(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, fully)
}
