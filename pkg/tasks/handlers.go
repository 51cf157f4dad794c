package tasks

import (
	"context"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/JailtonJunior94/mqconsumer/pkg/messaging/rabbitmq"
	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

const (
	Exchange = "tasks"

	InsertQueue = "tasks.insert"
	UpdateQueue = "tasks.update"
	DeleteQueue = "tasks.delete"

	InsertRoutingKey = "task.insert"
	UpdateRoutingKey = "task.update"
	DeleteRoutingKey = "task.delete"
)

var (
	ErrMissingSessionID = errors.New("tasks: session_id is required")
	ErrMissingTaskID    = errors.New("tasks: task_id is required")
)

type InsertMessage struct {
	SessionID  string         `json:"session_id"`
	AfterOrder int            `json:"after_order"`
	Data       map[string]any `json:"data"`
	Status     Status         `json:"status,omitempty"`
}

type UpdateMessage struct {
	TaskID string         `json:"task_id"`
	Status *Status        `json:"status,omitempty"`
	Order  *int           `json:"order,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

type DeleteMessage struct {
	TaskID string `json:"task_id"`
}

// Handlers turns the service operations into queue consumers. A rejected
// Result is returned as a handler error so the retry policy applies.
type Handlers struct {
	service *Service
	logger  observability.Logger
}

func NewHandlers(service *Service, logger observability.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  logger.With(observability.String("component", "tasks.handlers")),
	}
}

// Consumers returns one consumer per operation, all bound to the direct
// exchange "tasks". opts apply to all three.
func (h *Handlers) Consumers(opts ...rabbitmq.ConsumerOption) []rabbitmq.ConsumerConfig {
	return []rabbitmq.ConsumerConfig{
		rabbitmq.NewConsumerConfig(InsertQueue, Exchange, InsertRoutingKey, rabbitmq.JSONHandler(h.Insert), opts...),
		rabbitmq.NewConsumerConfig(UpdateQueue, Exchange, UpdateRoutingKey, rabbitmq.JSONHandler(h.Update), opts...),
		rabbitmq.NewConsumerConfig(DeleteQueue, Exchange, DeleteRoutingKey, rabbitmq.JSONHandler(h.Delete), opts...),
	}
}

func (h *Handlers) Insert(ctx context.Context, msg InsertMessage, _ amqp.Delivery) error {
	if msg.SessionID == "" {
		return ErrMissingSessionID
	}
	ctx = observability.WithFields(ctx, observability.String("session_id", msg.SessionID))

	return observability.Track(ctx, h.logger, "insert_task", func(ctx context.Context) error {
		task, err := h.service.Insert(ctx, msg.SessionID, msg.AfterOrder, msg.Data, msg.Status).Unpack()
		if err != nil {
			return err
		}
		h.logger.Info(ctx, "task inserted",
			observability.String("task_id", task.ID),
			observability.Int("task_order", task.Order),
			observability.String("task_description", task.Description()),
		)
		return nil
	})
}

func (h *Handlers) Update(ctx context.Context, msg UpdateMessage, _ amqp.Delivery) error {
	if msg.TaskID == "" {
		return ErrMissingTaskID
	}
	ctx = observability.WithFields(ctx, observability.String("task_id", msg.TaskID))

	return observability.Track(ctx, h.logger, "update_task", func(ctx context.Context) error {
		upd := TaskUpdate{Status: msg.Status, Order: msg.Order, Data: msg.Data}
		task, err := h.service.Update(ctx, msg.TaskID, upd).Unpack()
		if err != nil {
			return err
		}
		h.logger.Info(ctx, "task updated",
			observability.String("task_status", string(task.Status)),
			observability.Int("task_order", task.Order),
		)
		return nil
	})
}

func (h *Handlers) Delete(ctx context.Context, msg DeleteMessage, _ amqp.Delivery) error {
	if msg.TaskID == "" {
		return ErrMissingTaskID
	}
	ctx = observability.WithFields(ctx, observability.String("task_id", msg.TaskID))

	return observability.Track(ctx, h.logger, "delete_task", func(ctx context.Context) error {
		_, err := h.service.Delete(ctx, msg.TaskID).Unpack()
		return err
	})
}
