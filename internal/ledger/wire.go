package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polymarketbot/internal/domain"
)

// The wire* types are the JSON shapes actually persisted in the KV store.
// Decimal fields are carried as strings so no precision is lost round-
// tripping through the store.

type balanceWire struct {
	Available string    `json:"available"`
	Reserved  string     `json:"reserved"`
	UpdatedAt time.Time `json:"updated_at"`
}

func fromDomainBalance(b domain.Balance) balanceWire {
	return balanceWire{
		Available: b.Available.String(),
		Reserved:  b.Reserved.String(),
		UpdatedAt: b.UpdatedAt,
	}
}

func (w balanceWire) toDomain(strategy string) domain.Balance {
	avail, _ := decimal.NewFromString(w.Available)
	reserved, _ := decimal.NewFromString(w.Reserved)
	return domain.Balance{
		Strategy:  strategy,
		Available: avail,
		Reserved:  reserved,
		UpdatedAt: w.UpdatedAt,
	}
}

type reservationWire struct {
	Strategy          string                     `json:"strategy"`
	Agent             string                     `json:"agent"`
	Amount            string                     `json:"amount"`
	Priority          domain.ReservationPriority `json:"priority"`
	DrawnFromStrategy string                     `json:"drawn_from_strategy"`
	DrawsFromReserve  string                     `json:"draws_from_reserve"`
	CreatedAt         time.Time                  `json:"created_at"`
	TTLSeconds        float64                    `json:"ttl_seconds"`
}

func fromDomainReservation(r domain.Reservation) reservationWire {
	return reservationWire{
		Strategy:          r.Strategy,
		Agent:             r.Agent,
		Amount:            r.Amount.String(),
		Priority:          r.Priority,
		DrawnFromStrategy: r.DrawnFromStrategy.String(),
		DrawsFromReserve:  r.DrawsFromReserve.String(),
		CreatedAt:         r.CreatedAt,
		TTLSeconds:        r.TTL.Seconds(),
	}
}

func (w reservationWire) toDomain(id string) domain.Reservation {
	amount, _ := decimal.NewFromString(w.Amount)
	drawnStrategy, _ := decimal.NewFromString(w.DrawnFromStrategy)
	drawnReserve, _ := decimal.NewFromString(w.DrawsFromReserve)
	return domain.Reservation{
		ID:                id,
		Strategy:          w.Strategy,
		Agent:             w.Agent,
		Amount:            amount,
		Priority:          w.Priority,
		DrawnFromStrategy: drawnStrategy,
		DrawsFromReserve:  drawnReserve,
		CreatedAt:         w.CreatedAt,
		TTL:               time.Duration(w.TTLSeconds * float64(time.Second)),
	}
}

type nonceWire struct {
	Next      uint64    `json:"next"`
	UpdatedAt time.Time `json:"updated_at"`
}

type metricWire struct {
	ReservationsOK     int64     `json:"reservations_ok"`
	ReservationsDenied int64     `json:"reservations_denied"`
	RealizedPnL        string    `json:"realized_pnl"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func fromDomainMetric(m domain.Metric) metricWire {
	return metricWire{
		ReservationsOK:     m.ReservationsOK,
		ReservationsDenied: m.ReservationsDenied,
		RealizedPnL:        m.RealizedPnL.String(),
		UpdatedAt:          m.UpdatedAt,
	}
}

func (w metricWire) toDomain(strategy string) domain.Metric {
	pnl, _ := decimal.NewFromString(w.RealizedPnL)
	return domain.Metric{
		Strategy:           strategy,
		ReservationsOK:     w.ReservationsOK,
		ReservationsDenied: w.ReservationsDenied,
		RealizedPnL:        pnl,
		UpdatedAt:          w.UpdatedAt,
	}
}
