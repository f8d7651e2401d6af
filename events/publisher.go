package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"pos_inventory/models"
)

// OrderCompleted is the payload published after a checkout commits.
type OrderCompleted struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	StaffID     int64           `json:"staff_id"`
	CustomerID  *int64          `json:"customer_id,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Items       []ItemSold      `json:"items"`
	DiscountIDs []int64         `json:"discount_ids,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

type ItemSold struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func NewOrderCompleted(order *models.Order, discountIDs []int64) OrderCompleted {
	items := make([]ItemSold, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, ItemSold{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return OrderCompleted{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		StaffID:     order.UserID,
		CustomerID:  order.CustomerID,
		Total:       order.Total,
		Items:       items,
		DiscountIDs: discountIDs,
		CompletedAt: order.CreatedAt.UTC(),
	}
}

type Publisher interface {
	PublishOrderCompleted(ctx context.Context, evt OrderCompleted) error
	Close() error
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishOrderCompleted(context.Context, OrderCompleted) error { return nil }
func (Nop) Close() error                                                { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// New returns a kafka publisher, or Nop when brokers is empty.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic)
}

func (p *KafkaPublisher) PublishOrderCompleted(ctx context.Context, evt OrderCompleted) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.OrderID, 10)),
		Value: data,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
