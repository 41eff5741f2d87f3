// Order Service — заказы, обмены и возвраты, сторона саги, которая решает судьбу заказа.
// Команды API и реакции на события платежа, склада и доставки пишут изменения и исходящие
// события в outbox одной транзакцией. Outbox Relay публикует их в Kafka.
package main

import (
	"fmt"
	"os"

	"example.com/fulfillment/pkg/app"
	"example.com/fulfillment/pkg/consumer"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/services/order/internal/handler"
	"example.com/fulfillment/services/order/internal/repository"
	"example.com/fulfillment/services/order/internal/service"
)

func main() {
	a, err := app.New("order-service",
		&repository.OrderModel{},
		&repository.OrderItemModel{},
		&repository.ExchangeModel{},
		&repository.ReturnModel{},
		&repository.ReturnItemModel{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Order Service: %v\n", err)
		os.Exit(1)
	}

	svc := service.NewService(
		a.Tx,
		repository.NewOrderRepository(a.DB),
		repository.NewExchangeRepository(a.DB),
		repository.NewReturnRepository(a.DB),
		a.Outbox,
	)

	a.Subscribe(events.TypePaymentConfirmed, consumer.Handle(a.Registry, a.Guard, svc.OnPaymentConfirmed))
	a.Subscribe(events.TypePaymentCancelled, consumer.Handle(a.Registry, a.Guard, svc.OnPaymentCancelled))
	a.Subscribe(events.TypeInventoryShortage, consumer.Handle(a.Registry, a.Guard, svc.OnInventoryShortage))
	a.Subscribe(events.TypeShipmentStarted, consumer.Handle(a.Registry, a.Guard, svc.OnShipmentStarted))
	a.Subscribe(events.TypeShipmentDelivered, consumer.Handle(a.Registry, a.Guard, svc.OnShipmentDelivered))

	a.Routes(handler.NewHandler(svc).Register)

	if err := a.Run(); err != nil {
		a.Log.Fatal().Err(err).Msg("Ошибка Order Service")
	}
}
