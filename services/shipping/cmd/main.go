// Shipping Service — отгрузки оплаченных заказов.
// Создаёт отгрузку по order.paid, закрывает её по order.cancelled и публикует
// shipment.started и shipment.delivered через outbox.
package main

import (
	"fmt"
	"os"

	"example.com/fulfillment/pkg/app"
	"example.com/fulfillment/pkg/consumer"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/services/shipping/internal/handler"
	"example.com/fulfillment/services/shipping/internal/repository"
	"example.com/fulfillment/services/shipping/internal/service"
)

func main() {
	a, err := app.New("shipping-service", &repository.ShipmentModel{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Shipping Service: %v\n", err)
		os.Exit(1)
	}

	svc := service.NewService(a.Tx, repository.NewShipmentRepository(a.DB), a.Outbox)

	a.Subscribe(events.TypeOrderPaid, consumer.Handle(a.Registry, a.Guard, svc.OnOrderPaid))
	a.Subscribe(events.TypeOrderCancelled, consumer.Handle(a.Registry, a.Guard, svc.OnOrderCancelled))

	a.Routes(handler.NewHandler(svc).Register)

	if err := a.Run(); err != nil {
		a.Log.Fatal().Err(err).Msg("Ошибка Shipping Service")
	}
}
