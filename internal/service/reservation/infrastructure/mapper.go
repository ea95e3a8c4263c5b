package infrastructure

import (
	"encoding/json"

	"github.com/pkg/errors"

	"bazaar/internal/service/reservation/domain"
)

func toSellableItemDomain(m *SellableItemModel) *domain.SellableItem {
	return &domain.SellableItem{
		ID:             m.ID,
		StoreID:        m.StoreID,
		VariantID:      m.VariantID,
		SupplierID:     m.SupplierID,
		SyncedStock:    m.SyncedStock,
		IsActive:       m.IsActive,
		BasePriceCents: m.BasePriceCents,
		UnitCostCents:  m.UnitCostCents,
	}
}

// activeFlag 只有 RESERVED 状态返回非 nil；终态行的 active 列必须是
// NULL 才能让出唯一索引的位置。
func activeFlag(status domain.CartReservationStatus) *bool {
	if status == domain.CartReservationReserved {
		t := true
		return &t
	}
	return nil
}

func toCartReservationModel(r *domain.CartReservation) *CartReservationModel {
	return &CartReservationModel{
		ID:             r.ID,
		StoreID:        r.StoreID,
		CartID:         r.CartID,
		SellableItemID: r.SellableItemID,
		Active:         activeFlag(r.Status),
		CustomerID:     r.CustomerID,
		Quantity:       r.Quantity,
		Status:         string(r.Status),
		OrderID:        r.OrderID,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toCartReservationDomain(m *CartReservationModel) *domain.CartReservation {
	return &domain.CartReservation{
		ID:             m.ID,
		StoreID:        m.StoreID,
		CartID:         m.CartID,
		SellableItemID: m.SellableItemID,
		Quantity:       m.Quantity,
		Status:         domain.CartReservationStatus(m.Status),
		ExpiresAt:      m.ExpiresAt,
		CustomerID:     m.CustomerID,
		OrderID:        m.OrderID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toOrderModel(o *domain.Order) (*OrderModel, error) {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal order items")
	}
	return &OrderModel{
		ID:              o.ID,
		StoreID:         o.StoreID,
		CartID:          o.CartID,
		CustomerID:      o.CustomerID,
		Status:          string(o.Status),
		TotalCents:      o.TotalCents,
		PaymentIntentID: o.PaymentIntentID,
		ItemsJSON:       string(itemsJSON),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

func toOrderDomain(m *OrderModel) (*domain.Order, error) {
	var items []domain.OrderItem
	if m.ItemsJSON != "" {
		if err := json.Unmarshal([]byte(m.ItemsJSON), &items); err != nil {
			return nil, errors.Wrapf(err, "unmarshal items of order %s", m.ID)
		}
	}
	return &domain.Order{
		ID:              m.ID,
		StoreID:         m.StoreID,
		CartID:          m.CartID,
		CustomerID:      m.CustomerID,
		Items:           items,
		Status:          domain.OrderStatus(m.Status),
		PaymentIntentID: m.PaymentIntentID,
		TotalCents:      m.TotalCents,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}, nil
}

func toPaymentIntentModel(p *domain.PaymentIntentRecord) *PaymentIntentModel {
	return &PaymentIntentModel{
		ID:          p.ID,
		OrderID:     p.OrderID,
		StoreID:     p.StoreID,
		AmountCents: p.AmountCents,
		Status:      string(p.PaymentStatus),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toPaymentIntentDomain(m *PaymentIntentModel) *domain.PaymentIntentRecord {
	return &domain.PaymentIntentRecord{
		ID:            m.ID,
		OrderID:       m.OrderID,
		StoreID:       m.StoreID,
		AmountCents:   m.AmountCents,
		PaymentStatus: domain.PaymentStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toOrderReservationModel(r *domain.OrderInventoryReservation) (*OrderReservationModel, error) {
	itemsJSON, err := json.Marshal(r.Items)
	if err != nil {
		return nil, errors.Wrap(err, "marshal reserved items")
	}
	return &OrderReservationModel{
		ID:        r.ID,
		OrderID:   r.OrderID,
		StoreID:   r.StoreID,
		Status:    string(r.Status),
		ItemsJSON: string(itemsJSON),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func toOrderReservationDomain(m *OrderReservationModel) (*domain.OrderInventoryReservation, error) {
	var items []domain.ReservedItem
	if m.ItemsJSON != "" {
		if err := json.Unmarshal([]byte(m.ItemsJSON), &items); err != nil {
			return nil, errors.Wrapf(err, "unmarshal items of reservation %s", m.ID)
		}
	}
	return &domain.OrderInventoryReservation{
		ID:        m.ID,
		OrderID:   m.OrderID,
		StoreID:   m.StoreID,
		Items:     items,
		Status:    domain.OrderReservationStatus(m.Status),
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func toProcessedEventModel(e *domain.ProcessedEvent) *ProcessedEventModel {
	return &ProcessedEventModel{
		ExternalEventID: e.ExternalEventID,
		Processed:       e.Processed,
		Error:           e.Error,
		Payload:         e.Payload,
		ReceivedAt:      e.ReceivedAt,
		ProcessedAt:     e.ProcessedAt,
	}
}

func toProcessedEventDomain(m *ProcessedEventModel) *domain.ProcessedEvent {
	return &domain.ProcessedEvent{
		ExternalEventID: m.ExternalEventID,
		Processed:       m.Processed,
		Error:           m.Error,
		Payload:         m.Payload,
		ReceivedAt:      m.ReceivedAt,
		ProcessedAt:     m.ProcessedAt,
	}
}

func toEventRetryModel(r *domain.EventRetry) *EventRetryModel {
	return &EventRetryModel{
		ExternalEventID: r.ExternalEventID,
		RetryCount:      r.RetryCount,
		MaxRetries:      r.MaxRetries,
		NextRetryAt:     r.NextRetryAt,
		LastError:       r.LastError,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toEventRetryDomain(m *EventRetryModel) *domain.EventRetry {
	return &domain.EventRetry{
		ExternalEventID: m.ExternalEventID,
		RetryCount:      m.RetryCount,
		MaxRetries:      m.MaxRetries,
		NextRetryAt:     m.NextRetryAt,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
