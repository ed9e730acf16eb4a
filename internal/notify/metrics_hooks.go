package notify

// DeliveryHook observes one finished channel attempt: the channel name,
// whether it succeeded, the bounded error code, and the elapsed seconds.
type DeliveryHook func(channel string, success bool, code string, seconds float64)

var hookDelivery DeliveryHook = func(string, bool, string, float64) {}

// SetMetricHooks wires the delivery metrics callback. The package stays
// importable without a metrics registry; a nil hook restores the no-op.
func SetMetricHooks(delivery DeliveryHook) {
	if delivery == nil {
		delivery = func(string, bool, string, float64) {}
	}
	hookDelivery = delivery
}
