package port

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrPaymentDeclined is returned by gateways for a terminal decline, as
// opposed to a transport or gateway error.
var ErrPaymentDeclined = errors.New("payment declined")

// PaymentRequest is the charge instruction handed to a gateway.
type PaymentRequest struct {
	Amount         float64
	Currency       string
	OwnerID        string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentResult mirrors the gateway's answer for process and verify.
type PaymentResult struct {
	Success              bool
	PaymentID            string
	Status               string
	Amount               float64
	Currency             string
	TransactionReference string
	ErrorMessage         string
}

// RefundResult mirrors the gateway's answer for refunds.
type RefundResult struct {
	Success      bool
	RefundID     string
	Amount       float64
	Status       string
	ErrorMessage string
}

// PaymentGateway is the pluggable payment strategy invoked by the
// booking saga. Implementations live behind HTTP, SDKs or test fakes;
// none of them is part of this core.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	VerifyPayment(ctx context.Context, paymentID string) (*PaymentResult, error)
	RefundPayment(ctx context.Context, paymentID string, amount float64, reason string) (*RefundResult, error)
}

// WebhookHandler is an optional gateway capability, detected by
// interface assertion at the boundary that receives webhooks.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte) error
}

// GatewayRegistry maps payment-method identifiers to gateway
// implementations. It is built once at startup and never mutated at
// request time.
type GatewayRegistry struct {
	defaultMethod string
	gateways      map[string]PaymentGateway
}

// NewGatewayRegistry freezes the given gateways into a registry. The
// default method must be present.
func NewGatewayRegistry(defaultMethod string, gateways map[string]PaymentGateway) (*GatewayRegistry, error) {
	if len(gateways) == 0 {
		return nil, errors.New("no payment gateways configured")
	}
	if _, ok := gateways[defaultMethod]; !ok {
		return nil, fmt.Errorf("default payment method %q is not configured", defaultMethod)
	}
	frozen := make(map[string]PaymentGateway, len(gateways))
	for k, v := range gateways {
		frozen[k] = v
	}
	return &GatewayRegistry{defaultMethod: defaultMethod, gateways: frozen}, nil
}

// Resolve picks the gateway for method, falling back to the configured
// default when method is empty. An unknown method is a client error.
func (r *GatewayRegistry) Resolve(method string) (PaymentGateway, error) {
	if method == "" {
		method = r.defaultMethod
	}
	gw, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("unknown payment method %q", method)
	}
	return gw, nil
}

// Methods lists the configured method identifiers, sorted.
func (r *GatewayRegistry) Methods() []string {
	out := make([]string, 0, len(r.gateways))
	for k := range r.gateways {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
