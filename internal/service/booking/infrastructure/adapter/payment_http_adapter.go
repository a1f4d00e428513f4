package adapter

import (
	"context"
	"fmt"

	"boxoffice/internal/pkg/httpclient"
	"boxoffice/internal/service/booking/port"
)

// PaymentHTTPAdapter implements port.PaymentGateway against an external
// payment service speaking JSON over HTTP.
type PaymentHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

// NewPaymentHTTPAdapter builds the adapter for the service at baseURL.
func NewPaymentHTTPAdapter(client *httpclient.Client, baseURL string) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, baseURL: baseURL}
}

type processPaymentRequest struct {
	Amount         float64           `json:"amount"`
	Currency       string            `json:"currency"`
	OwnerID        string            `json:"owner_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	Success              bool    `json:"success"`
	PaymentID            string  `json:"payment_id"`
	Status               string  `json:"status"`
	Amount               float64 `json:"amount"`
	Currency             string  `json:"currency"`
	TransactionReference string  `json:"transaction_reference,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`
}

type refundRequest struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type refundResponse struct {
	Success      bool    `json:"success"`
	RefundID     string  `json:"refund_id"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func (a *PaymentHTTPAdapter) ProcessPayment(ctx context.Context, req port.PaymentRequest) (*port.PaymentResult, error) {
	var resp paymentResponse
	err := a.client.PostJSON(ctx, a.baseURL+"/payments", processPaymentRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		OwnerID:        req.OwnerID,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("process payment: %w", err)
	}
	return toPortResult(&resp), nil
}

func (a *PaymentHTTPAdapter) VerifyPayment(ctx context.Context, paymentID string) (*port.PaymentResult, error) {
	var resp paymentResponse
	err := a.client.PostJSON(ctx, a.baseURL+"/payments/verify", map[string]string{"payment_id": paymentID}, &resp)
	if err != nil {
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	return toPortResult(&resp), nil
}

func (a *PaymentHTTPAdapter) RefundPayment(ctx context.Context, paymentID string, amount float64, reason string) (*port.RefundResult, error) {
	var resp refundResponse
	err := a.client.PostJSON(ctx, a.baseURL+"/refunds", refundRequest{
		PaymentID: paymentID,
		Amount:    amount,
		Reason:    reason,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("refund payment: %w", err)
	}
	return &port.RefundResult{
		Success:      resp.Success,
		RefundID:     resp.RefundID,
		Amount:       resp.Amount,
		Status:       resp.Status,
		ErrorMessage: resp.ErrorMessage,
	}, nil
}

func toPortResult(resp *paymentResponse) *port.PaymentResult {
	return &port.PaymentResult{
		Success:              resp.Success,
		PaymentID:            resp.PaymentID,
		Status:               resp.Status,
		Amount:               resp.Amount,
		Currency:             resp.Currency,
		TransactionReference: resp.TransactionReference,
		ErrorMessage:         resp.ErrorMessage,
	}
}
