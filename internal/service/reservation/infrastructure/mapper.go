package infrastructure

import (
	"boxoffice/internal/service/reservation/domain"
)

func toDomainUnit(m *InventoryUnitModel) *domain.InventoryUnit {
	if m == nil {
		return nil
	}
	unit := &domain.InventoryUnit{
		ID:            m.ID,
		EventID:       m.EventID,
		SectionID:     m.SectionID,
		Price:         m.Price,
		Status:        domain.UnitStatus(m.Status),
		Version:       m.Version,
		HoldExpiresAt: m.HoldExpiresAt,
	}
	if m.HolderID != nil {
		unit.HolderID = *m.HolderID
	}
	return unit
}

func toUnitModel(u *domain.InventoryUnit) *InventoryUnitModel {
	m := &InventoryUnitModel{
		ID:            u.ID,
		EventID:       u.EventID,
		SectionID:     u.SectionID,
		Price:         u.Price,
		Status:        string(u.Status),
		Version:       u.Version,
		HoldExpiresAt: u.HoldExpiresAt,
	}
	if u.HolderID != "" {
		holder := u.HolderID
		m.HolderID = &holder
	}
	return m
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	if m == nil {
		return nil
	}
	unitIDs := make([]string, len(m.Units))
	for i, u := range m.Units {
		unitIDs[i] = u.UnitID
	}
	return &domain.Reservation{
		ID:        m.ID,
		EventID:   m.EventID,
		OwnerID:   m.OwnerID,
		UnitIDs:   unitIDs,
		Status:    domain.ReservationStatus(m.Status),
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
	}
}

func toReservationModel(r *domain.Reservation) *ReservationModel {
	units := make([]ReservationUnitModel, len(r.UnitIDs))
	for i, id := range r.UnitIDs {
		units[i] = ReservationUnitModel{ReservationID: r.ID, UnitID: id}
	}
	return &ReservationModel{
		ID:        r.ID,
		EventID:   r.EventID,
		OwnerID:   r.OwnerID,
		Status:    string(r.Status),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		Units:     units,
	}
}
