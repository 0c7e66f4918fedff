package notification

import (
	"context"
	"log"

	"github.com/google/uuid"

	"eldorado/internal/model"
	"eldorado/internal/store"
)

// Service fans alerts out to the alerts table and the configured
// notifier. It implements the scheduler's Alerter contract.
type Service struct {
	Droplet  string
	Store    *store.AlertStore
	Notifier Notifier
}

// Alert records one alert row and delivers it. Delivery failures are
// logged, never propagated: alerting must not take the pipeline down.
func (s *Service) Alert(ctx context.Context, level string, exchange string, marketID *uuid.UUID, message string) {
	if s.Store != nil {
		err := s.Store.Insert(ctx, &model.Alert{
			Droplet:  s.Droplet,
			Exchange: exchange,
			MarketID: marketID,
			Level:    level,
			Message:  message,
		})
		if err != nil {
			log.Printf("[notify] alert row insert failed: %v", err)
		}
	}
	if s.Notifier == nil {
		return
	}
	err := s.Notifier.Send(ctx, Alert{
		Level:   AlertLevel(level),
		Title:   exchange,
		Message: message,
	})
	if err != nil {
		log.Printf("[notify] delivery failed: %v", err)
	}
}
