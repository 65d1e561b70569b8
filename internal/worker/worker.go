package worker

import (
	"context"

	"rental-service/internal/broker"
	"rental-service/internal/models"
	"rental-service/internal/util"

	"go.uber.org/zap"
)

// StockMoveHandler applies warehouse pickups and returns to rental orders
type StockMoveHandler interface {
	HandlePickupDone(ctx context.Context, event *models.StockMoveEvent) error
	HandleReturnDone(ctx context.Context, event *models.StockMoveEvent) error
}

// StockMoveWorker consumes warehouse stock move events
type StockMoveWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStockMoveWorker creates a new stock move worker
func NewStockMoveWorker(consumer *broker.Consumer, handler StockMoveHandler) *StockMoveWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPickupDone(handler.HandlePickupDone)
	eventHandler.OnReturnDone(handler.HandleReturnDone)

	return &StockMoveWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.ComponentLogger("stock-move-worker"),
	}
}

// Start starts the worker and blocks until ctx is cancelled
func (w *StockMoveWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock move worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockMoveWorker) Stop() error {
	w.logger.Info("Stopping stock move worker")
	return w.consumer.Close()
}
