// Inventory Service — остатки SKU и журнал движений.
// Применяет списания и пополнения из inventory.decrease и inventory.increase
// ровно один раз, при нехватке публикует inventory.shortage.
package main

import (
	"fmt"
	"os"

	"example.com/fulfillment/pkg/app"
	"example.com/fulfillment/pkg/consumer"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/services/inventory/internal/handler"
	"example.com/fulfillment/services/inventory/internal/repository"
	"example.com/fulfillment/services/inventory/internal/service"
)

func main() {
	a, err := app.New("inventory-service",
		&repository.StockModel{},
		&repository.MovementModel{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Inventory Service: %v\n", err)
		os.Exit(1)
	}

	svc := service.NewService(
		a.Tx,
		repository.NewStockRepository(a.DB),
		repository.NewMovementRepository(a.DB),
		a.Outbox,
		repository.NewStockCache(a.Redis, a.Cfg.Redis.CacheTTL),
	)

	a.Subscribe(events.TypeInventoryDecrease, consumer.Handle(a.Registry, a.Guard, svc.OnInventoryDecrease))
	a.Subscribe(events.TypeInventoryIncrease, consumer.Handle(a.Registry, a.Guard, svc.OnInventoryIncrease))

	a.Routes(handler.NewHandler(svc).Register)

	if err := a.Run(); err != nil {
		a.Log.Fatal().Err(err).Msg("Ошибка Inventory Service")
	}
}
