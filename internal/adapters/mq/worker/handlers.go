package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/faultline/internal/adapters/mq/queue"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/pkg/logger"
)

// EventHider hides events reported from one client address.
type EventHider interface {
	HideByClientIP(ctx context.Context, organizationID, ip string, from, to time.Time) (int, error)
}

// LocationSetter stores a resolved location on an event.
type LocationSetter interface {
	SetLocation(ctx context.Context, id string, loc model.Location) error
}

// GeoResolver resolves a client address to a location.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (model.Location, bool, error)
}

// BulkHideHandler hides the events of a throttled client within the item's
// window.
func BulkHideHandler(store EventHider, log logger.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, item queue.Item) error { //nolint:gocritic // hugeParam
		if item.ClientIP == "" || item.OrganizationID == "" {
			return fmt.Errorf("%w: bulk hide needs organization and client ip", ErrInvalidItem)
		}
		n, err := store.HideByClientIP(ctx, item.OrganizationID, item.ClientIP, item.WindowStart, item.WindowEnd)
		if err != nil {
			return err
		}
		log.Info(ctx, "hid throttled client events",
			logger.String("organization_id", item.OrganizationID),
			logger.String("client_ip", item.ClientIP),
			logger.Int("hidden", n))
		return nil
	})
}

// GeoBackfillHandler resolves the location of an already persisted event.
func GeoBackfillHandler(resolver GeoResolver, store LocationSetter) Handler {
	return HandlerFunc(func(ctx context.Context, item queue.Item) error { //nolint:gocritic // hugeParam
		if item.EventID == "" || item.ClientIP == "" {
			return fmt.Errorf("%w: geo backfill needs event id and client ip", ErrInvalidItem)
		}
		loc, ok, err := resolver.Resolve(ctx, item.ClientIP)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return store.SetLocation(ctx, item.EventID, loc)
	})
}
