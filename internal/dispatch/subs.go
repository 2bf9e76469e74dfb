package dispatch

import (
	"context"
	"errors"

	"github.com/wrenware/lattice/internal/onem2m"
	"github.com/wrenware/lattice/internal/resource"
)

// notifySubscribers delivers an event to every subscription directly under
// res whose criteria include eventType. Delivery is best effort: a broken
// notification target never fails the operation that caused the event.
func (d *Dispatcher) notifySubscribers(ctx context.Context, res *resource.Resource, eventType int, rep map[string]any) {
	refs, err := d.store.ChildrenOf(ctx, res.RI(), onem2m.TypeSubscription)
	if err != nil {
		d.logger.Warn("listing subscriptions failed", "ri", res.RI(), "error", err)
		return
	}

	for _, ref := range refs {
		subRes, err := d.store.Get(ctx, ref.RI)
		if err != nil {
			if !errors.Is(err, onem2m.ErrNotFound) {
				d.logger.Warn("loading subscription failed", "ri", ref.RI, "error", err)
			}
			continue
		}
		sub, ok := mustSubscription(subRes)
		if !ok || !sub.WantsEvent(eventType) {
			continue
		}

		envelope := map[string]any{
			resource.NotificationKey: map[string]any{
				resource.NotificationEvent: map[string]any{
					resource.NotificationRep:       rep,
					resource.NotificationEventType: eventType,
				},
				resource.NotificationSubRef: subRes.SRN,
			},
		}
		for _, uri := range sub.Resource().StringSlice(resource.AttrNotificationURIs) {
			if err := d.deliverNotification(ctx, uri, envelope); err != nil {
				d.logger.Warn("subscription notification failed",
					"subscription", subRes.RI(), "target", uri, "error", err)
			}
		}
	}
}

func mustSubscription(res *resource.Resource) (*resource.Subscription, bool) {
	t, err := resource.FromResource(res)
	if err != nil {
		return nil, false
	}
	sub, ok := t.(*resource.Subscription)
	return sub, ok
}
