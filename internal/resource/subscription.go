package resource

import (
	"context"
	"fmt"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Subscription-specific short attribute names.
const (
	AttrNotificationURIs = "nu"
	AttrEventCriteria    = "enc"
	AttrSubscriberURI    = "su"
)

// Notification envelope keys used for verification and deletion notices.
const (
	NotificationKey       = "m2m:sgn"
	NotificationVerify    = "vrq"
	NotificationDeleted   = "sud"
	NotificationEvent     = "nev"
	NotificationSubRef    = "sur"
	NotificationRep       = "rep"
	NotificationEventType = "net"
)

// Subscription event types carried in enc/net.
const (
	NotifyEventUpdate      = 1
	NotifyEventDelete      = 2
	NotifyEventCreateChild = 3
	NotifyEventDeleteChild = 4
)

// Subscription watches its parent resource and delivers notifications to
// its notification URIs.
type Subscription struct {
	Base
}

func newSubscription(res *Resource) *Subscription {
	return &Subscription{Base: NewBase(res, "m2m:sub")}
}

// Validate requires at least one notification URI.
func (s *Subscription) Validate(create bool) error {
	if err := validateCommon(s.Resource(), create); err != nil {
		return err
	}
	if len(s.Resource().StringSlice(AttrNotificationURIs)) == 0 {
		return fmt.Errorf("subscription needs at least one notification URI: %w", onem2m.ErrBadRequest)
	}
	return nil
}

// Activate sends the verification request to every notification URI. A
// target that cannot be verified fails the creation; the dispatch core
// compensates by deleting the already-persisted subscription.
func (s *Subscription) Activate(ctx context.Context, env Env) error {
	envelope := map[string]any{
		NotificationKey: map[string]any{
			NotificationVerify: true,
			NotificationSubRef: s.Resource().SRN,
		},
	}
	for _, uri := range s.Resource().StringSlice(AttrNotificationURIs) {
		if err := env.SendNotification(ctx, uri, envelope); err != nil {
			return fmt.Errorf("verification of notification target %q failed: %w", uri, err)
		}
	}
	return nil
}

// Deactivate sends a best-effort deletion notice to every target.
func (s *Subscription) Deactivate(ctx context.Context, env Env) {
	envelope := map[string]any{
		NotificationKey: map[string]any{
			NotificationDeleted: true,
			NotificationSubRef:  s.Resource().SRN,
		},
	}
	for _, uri := range s.Resource().StringSlice(AttrNotificationURIs) {
		if err := env.SendNotification(ctx, uri, envelope); err != nil {
			env.Warn("subscription deletion notice failed", "target", uri, "error", err)
		}
	}
}

// WantsEvent reports whether the subscription's event notification
// criteria include the given event type. An absent criteria set defaults
// to child-creation events only.
func (s *Subscription) WantsEvent(eventType int) bool {
	enc, ok := s.Resource().Attributes[AttrEventCriteria].(map[string]any)
	if !ok {
		return eventType == NotifyEventCreateChild
	}
	rawNet, ok := enc[NotificationEventType]
	if !ok {
		return eventType == NotifyEventCreateChild
	}
	list, ok := rawNet.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if n, isNum := v.(float64); isNum && int(n) == eventType {
			return true
		}
		if n, isInt := v.(int); isInt && n == eventType {
			return true
		}
	}
	return false
}
