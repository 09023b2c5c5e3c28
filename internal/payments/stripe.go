package payments

import (
	"context"
	"math"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient wraps stripe-go for the ride payment flows: a plain
// PaymentIntent at ride completion plus manual-capture hold/capture/cancel.
type StripeClient struct {
	Currency string
}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY
// env var. Currency defaults to usd.
func NewStripeClient(currency string) *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{Currency: currency}
}

// Cents converts a fare to the smallest currency unit. This is the only
// place a fare is ever rounded.
func Cents(fare float64) int64 {
	return int64(math.Round(fare * 100))
}

// CreateIntent creates a PaymentIntent for a ride's fare and returns its
// client secret for the client-side confirmation flow.
func (s *StripeClient) CreateIntent(ctx context.Context, rideID string, fare float64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(Cents(fare)),
		Currency: stripe.String(s.Currency),
	}
	params.AddMetadata("ride_id", rideID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ClientSecret, nil
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, fare float64, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(Cents(fare)),
		Currency: stripe.String(s.Currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
