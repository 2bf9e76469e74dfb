package resource

// PollingChannel lets an unreachable AE collect its notifications by long
// polling the channel's pcu virtual child. The queue itself is runtime
// state owned by the dispatch core's polling manager, not an attribute.
type PollingChannel struct {
	Base
}

func newPollingChannel(res *Resource) *PollingChannel {
	return &PollingChannel{Base: NewBase(res, "m2m:pch")}
}

// Validate applies only the common attribute rules; the type adds none.
func (p *PollingChannel) Validate(create bool) error {
	return validateCommon(p.Resource(), create)
}
