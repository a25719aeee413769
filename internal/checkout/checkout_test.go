package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/pet-ride/internal/api"
	"github.com/example/pet-ride/internal/models"
)

type fakeBackend struct {
	walletPaid []string
	payments   []api.CreatePaymentRequest
	secret     string
}

func (f *fakeBackend) PayWallet(_ context.Context, id string) (*models.Order, error) {
	f.walletPaid = append(f.walletPaid, id)
	return &models.Order{ID: id, PaymentStatus: models.PaymentPaid}, nil
}

func (f *fakeBackend) CreatePayment(_ context.Context, req api.CreatePaymentRequest) (*models.Payment, error) {
	f.payments = append(f.payments, req)
	return &models.Payment{ID: "pay_1", OrderID: req.OrderID, ClientSecret: f.secret}, nil
}

type fakeSheet struct {
	outcome Outcome
	secret  string
	amount  float64
}

func (s *fakeSheet) Present(_ context.Context, secret string, amount float64) (Outcome, error) {
	s.secret, s.amount = secret, amount
	return s.outcome, nil
}

func TestPay_ByMethod(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{secret: "pi_123_secret"}
	sheet := &fakeSheet{outcome: OutcomeSucceeded}
	c := New(b, sheet, nil)

	res, err := c.Pay(ctx, models.Order{ID: "o1", PaymentMethod: models.PayCash})
	require.NoError(t, err)
	assert.False(t, res.Collected)

	res, err = c.Pay(ctx, models.Order{ID: "o2", PaymentMethod: models.PayWallet})
	require.NoError(t, err)
	assert.True(t, res.Collected)
	assert.Equal(t, []string{"o2"}, b.walletPaid)

	res, err = c.Pay(ctx, models.Order{ID: "o3", PaymentMethod: models.PayCard, Price: 180})
	require.NoError(t, err)
	assert.True(t, res.Collected)
	assert.Equal(t, "pay_1", res.PaymentID)
	assert.Equal(t, "pi_123_secret", sheet.secret)
	assert.Equal(t, 180.0, sheet.amount)
}

func TestPay_CardCanceledAndFailed(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{secret: "s"}
	sheet := &fakeSheet{outcome: OutcomeCanceled}
	c := New(b, sheet, nil)

	_, err := c.Pay(ctx, models.Order{ID: "o1", PaymentMethod: models.PayCard})
	assert.ErrorIs(t, err, ErrPaymentCanceled)

	sheet.outcome = OutcomeFailed
	_, err = c.Pay(ctx, models.Order{ID: "o1", PaymentMethod: models.PayCard})
	assert.ErrorIs(t, err, ErrPaymentFailed)

	b.secret = ""
	_, err = c.Pay(ctx, models.Order{ID: "o1", PaymentMethod: models.PayCard})
	assert.ErrorIs(t, err, ErrNoClientSecret)
}
