package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Wire DTOs for the backend API. Monetary fields arrive as exact decimal
// strings; decimal.Decimal accepts both quoted and bare JSON numbers. Remote
// payloads are decoded into domain types here, at the boundary, and nowhere
// else.

type instrumentDTO struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Exchange  string    `json:"exchange"`
	Currency  string    `json:"currency"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d instrumentDTO) toDomain() domain.Instrument {
	return domain.Instrument{
		Symbol:    d.Symbol,
		Name:      d.Name,
		Exchange:  d.Exchange,
		Currency:  d.Currency,
		Active:    d.Active,
		UpdatedAt: d.UpdatedAt,
	}
}

type tradeDTO struct {
	TransactionID string          `json:"transaction_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

func (d tradeDTO) toDomain() (domain.TradeEvent, error) {
	side := domain.TradeSide(d.Side)
	if side != domain.SideBuy && side != domain.SideSell {
		return domain.TradeEvent{}, fmt.Errorf("unknown trade side %q", d.Side)
	}
	return domain.TradeEvent{
		TransactionID: d.TransactionID,
		Symbol:        d.Symbol,
		Side:          side,
		Quantity:      d.Quantity,
		Price:         d.Price,
		ExecutedAt:    d.ExecutedAt,
	}, nil
}

type positionDTO struct {
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	AverageCost  decimal.Decimal `json:"average_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	BaseQuantity int64           `json:"base_quantity"`
	Version      int64           `json:"version"`
	LastModified time.Time       `json:"last_modified"`
}

func (d positionDTO) toDomain() domain.Position {
	return domain.Position{
		Symbol:       d.Symbol,
		Quantity:     d.Quantity,
		AverageCost:  d.AverageCost,
		CurrentPrice: d.CurrentPrice,
		BaseQuantity: d.BaseQuantity,
		Version:      d.Version,
		LastModified: d.LastModified,
	}
}

type candleDTO struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   int64           `json:"volume"`
	OpenedAt time.Time       `json:"opened_at"`
}

func (d candleDTO) toDomain() domain.Candle {
	return domain.Candle{
		Symbol:   d.Symbol,
		Interval: d.Interval,
		Open:     d.Open,
		High:     d.High,
		Low:      d.Low,
		Close:    d.Close,
		Volume:   d.Volume,
		OpenedAt: d.OpenedAt,
	}
}

type submitRequest struct {
	ID            string          `json:"id"`
	OperationType string          `json:"operation_type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

type ackResponse struct {
	ID         string    `json:"id"`
	Accepted   bool      `json:"accepted"`
	Duplicate  bool      `json:"duplicate"`
	ReceivedAt time.Time `json:"received_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
