// Package payment requests hosted checkout sessions from the payment gateway.
package payment

import "context"

// LineItem is one cart line as described to the gateway
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64
	Quantity    int64
}

// SessionRequest describes a hosted checkout session
type SessionRequest struct {
	Currency          string
	Lines             []LineItem
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
}

// Session is the gateway handle returned for a request
type Session struct {
	ID  string
	URL string
}

// Gateway creates hosted checkout sessions
type Gateway interface {
	CreateSession(ctx context.Context, req *SessionRequest) (*Session, error)
}
