// Package container wires the application dependencies together.
package container

import (
	"stayflow/internal/app"
	"stayflow/internal/businessday"
	"stayflow/internal/config"
	"stayflow/internal/db"
	"stayflow/internal/handler"
	"stayflow/internal/notify"
	"stayflow/internal/occupancy"
	"stayflow/internal/router"
	"stayflow/internal/scheduler"
	"stayflow/internal/store"
	"stayflow/internal/types"

	"go.uber.org/dig"
	"gorm.io/gorm"
)

// BuildContainer creates and configures the dependency injection container.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		config.NewManager,
		db.NewDB,
		store.NewStore,
		newBusinessDayCalculator,
		occupancy.NewStateMachine,
		newMessenger,
		scheduler.NewAutoCheckoutScheduler,
		scheduler.NewNotificationDispatcher,
		handler.NewServer,
		router.NewRouter,
		app.NewApp,
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, err
		}
	}

	return container, nil
}

func newBusinessDayCalculator(configManager types.ConfigManager) *businessday.Calculator {
	cfg := configManager.GetSchedulerConfig()
	return businessday.NewCalculator(cfg.BusinessDayCutoverHour, cfg.TimezoneOffsetHours)
}

func newMessenger(db *gorm.DB, configManager types.ConfigManager) notify.Messenger {
	return notify.NewPushMessenger(db, configManager)
}
