package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"boxoffice/internal/service/booking/port"
)

// PaymentRecordStore holds the payments a MemoryPaymentGateway has
// processed. It is injected per gateway instance so tests never share
// state through process-global maps.
type PaymentRecordStore struct {
	mu       sync.Mutex
	payments map[string]float64
	refunds  map[string]float64
}

// NewPaymentRecordStore builds an empty store.
func NewPaymentRecordStore() *PaymentRecordStore {
	return &PaymentRecordStore{
		payments: make(map[string]float64),
		refunds:  make(map[string]float64),
	}
}

// MemoryPaymentGateway is an in-process port.PaymentGateway for local
// runs and tests. Failures can be forced to exercise the saga's
// compensation path.
type MemoryPaymentGateway struct {
	store *PaymentRecordStore

	mu          sync.Mutex
	failCharge  bool
	failRefund  bool
	chargeCalls int
	refundCalls int
}

// NewMemoryPaymentGateway builds the gateway around the given store.
func NewMemoryPaymentGateway(store *PaymentRecordStore) *MemoryPaymentGateway {
	return &MemoryPaymentGateway{store: store}
}

// FailNextCharges makes every ProcessPayment decline until reset.
func (g *MemoryPaymentGateway) FailNextCharges(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCharge = fail
}

// FailRefunds makes every RefundPayment fail until reset.
func (g *MemoryPaymentGateway) FailRefunds(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failRefund = fail
}

// ChargeCalls reports how many times ProcessPayment ran.
func (g *MemoryPaymentGateway) ChargeCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeCalls
}

// RefundCalls reports how many times RefundPayment ran.
func (g *MemoryPaymentGateway) RefundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refundCalls
}

func (g *MemoryPaymentGateway) ProcessPayment(ctx context.Context, req port.PaymentRequest) (*port.PaymentResult, error) {
	g.mu.Lock()
	g.chargeCalls++
	declined := g.failCharge
	g.mu.Unlock()

	if declined {
		return &port.PaymentResult{
			Success:      false,
			Status:       "DECLINED",
			Amount:       req.Amount,
			Currency:     req.Currency,
			ErrorMessage: "card declined",
		}, nil
	}

	paymentID := "pay_" + uuid.NewString()
	g.store.mu.Lock()
	g.store.payments[paymentID] = req.Amount
	g.store.mu.Unlock()

	return &port.PaymentResult{
		Success:              true,
		PaymentID:            paymentID,
		Status:               "CAPTURED",
		Amount:               req.Amount,
		Currency:             req.Currency,
		TransactionReference: "txn_" + uuid.NewString(),
	}, nil
}

func (g *MemoryPaymentGateway) VerifyPayment(ctx context.Context, paymentID string) (*port.PaymentResult, error) {
	g.store.mu.Lock()
	amount, ok := g.store.payments[paymentID]
	g.store.mu.Unlock()
	if !ok {
		return &port.PaymentResult{Success: false, ErrorMessage: "payment not found"}, nil
	}
	return &port.PaymentResult{Success: true, PaymentID: paymentID, Status: "CAPTURED", Amount: amount}, nil
}

func (g *MemoryPaymentGateway) RefundPayment(ctx context.Context, paymentID string, amount float64, reason string) (*port.RefundResult, error) {
	g.mu.Lock()
	g.refundCalls++
	failing := g.failRefund
	g.mu.Unlock()

	if failing {
		return nil, fmt.Errorf("refund endpoint unavailable")
	}

	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	if _, ok := g.store.payments[paymentID]; !ok {
		return &port.RefundResult{Success: false, ErrorMessage: "payment not found"}, nil
	}
	refundID := "ref_" + uuid.NewString()
	g.store.refunds[refundID] = amount
	return &port.RefundResult{Success: true, RefundID: refundID, Amount: amount, Status: "REFUNDED"}, nil
}
