// Payment Service — платежи заказов.
// Создаёт платёж по order.created, принимает колбэки платёжного шлюза,
// возвращает деньги при отмене заказа и завершённом возврате товара.
// Зависшие PENDING платежи отменяются периодическим сканированием по таймауту.
package main

import (
	"fmt"
	"os"

	"example.com/fulfillment/pkg/app"
	"example.com/fulfillment/pkg/consumer"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/services/payment/internal/handler"
	"example.com/fulfillment/services/payment/internal/repository"
	"example.com/fulfillment/services/payment/internal/service"
)

func main() {
	a, err := app.New("payment-service",
		&repository.PaymentModel{},
		&repository.RefundModel{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Payment Service: %v\n", err)
		os.Exit(1)
	}

	svc := service.NewService(a.Tx, repository.NewPaymentRepository(a.DB), a.Outbox)

	a.Subscribe(events.TypeOrderCreated, consumer.Handle(a.Registry, a.Guard, svc.OnOrderCreated))
	a.Subscribe(events.TypeOrderCancelled, consumer.Handle(a.Registry, a.Guard, svc.OnOrderCancelled))
	a.Subscribe(events.TypeReturnCompleted, consumer.Handle(a.Registry, a.Guard, svc.OnReturnCompleted))

	timeouts := service.TimeoutConfig{
		Service:   a.Name,
		Timeout:   a.Cfg.Saga.PaymentTimeout,
		Interval:  a.Cfg.Saga.ScanInterval,
		BatchSize: a.Cfg.Saga.ScanBatchSize,
	}
	if a.Cfg.Relay.LeaderLock {
		timeouts.Leadership = a.Leader("payment-timeout-scan")
	}
	a.Go("payment-timeout-scan", svc.TimeoutScanner(timeouts))

	a.Routes(handler.NewHandler(svc).Register)

	if err := a.Run(); err != nil {
		a.Log.Fatal().Err(err).Msg("Ошибка Payment Service")
	}
}
