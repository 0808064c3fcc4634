package domain

// CheckoutRequest asks the payment provider for a hosted checkout page.
type CheckoutRequest struct {
	SenderName  string
	SenderEmail string
	AmountMinor int64
	Currency    string
}

// CheckoutSession is the provider's view of a checkout.
type CheckoutSession struct {
	ID          string
	URL         string
	Paid        bool
	Expired     bool
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}
