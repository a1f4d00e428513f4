package infrastructure

import (
	"boxoffice/internal/service/booking/domain"
)

func toBookingModel(b *domain.Booking) *BookingModel {
	units := make([]BookingUnitModel, len(b.Units))
	for i, u := range b.Units {
		units[i] = BookingUnitModel{BookingID: b.ID, UnitID: u.UnitID, Price: u.Price}
	}
	return &BookingModel{
		ID:            b.ID,
		Reference:     b.Reference,
		EventID:       b.EventID,
		OwnerID:       b.OwnerID,
		ReservationID: b.ReservationID,
		TotalAmount:   b.TotalAmount,
		Currency:      b.Currency,
		Status:        string(b.Status),
		PaymentID:     b.PaymentID,
		PaymentStatus: b.PaymentStatus,
		CreatedAt:     b.CreatedAt,
		ConfirmedAt:   b.ConfirmedAt,
		Units:         units,
	}
}

func toDomainBooking(m *BookingModel) *domain.Booking {
	if m == nil {
		return nil
	}
	units := make([]domain.BookingUnit, len(m.Units))
	for i, u := range m.Units {
		units[i] = domain.BookingUnit{UnitID: u.UnitID, Price: u.Price}
	}
	return &domain.Booking{
		ID:            m.ID,
		Reference:     m.Reference,
		EventID:       m.EventID,
		OwnerID:       m.OwnerID,
		ReservationID: m.ReservationID,
		TotalAmount:   m.TotalAmount,
		Currency:      m.Currency,
		Status:        domain.BookingStatus(m.Status),
		PaymentID:     m.PaymentID,
		PaymentStatus: m.PaymentStatus,
		Units:         units,
		CreatedAt:     m.CreatedAt,
		ConfirmedAt:   m.ConfirmedAt,
	}
}

func toDomainIdempotency(m *IdempotencyModel) *domain.IdempotencyRecord {
	if m == nil {
		return nil
	}
	return &domain.IdempotencyRecord{
		Key:         m.Key,
		RequestHash: m.RequestHash,
		Response:    m.Response,
		StatusCode:  m.StatusCode,
		InFlight:    m.InFlight,
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
	}
}
