package pipeline

// Hook types for the alert lifecycle metrics the pipeline reports.
type (
	AlertFiredHook      func(rule, severity string)
	AlertSuppressedHook func(reason string)
	PassHook            func()
	UndeliveredHook     func(count int)
)

var (
	hookAlertFired      AlertFiredHook      = func(string, string) {}
	hookAlertSuppressed AlertSuppressedHook = func(string) {}
	hookPassStarted     PassHook            = func() {}
	hookPassFinished    PassHook            = func() {}
	hookEventProcessed  PassHook            = func() {}
	hookUndelivered     UndeliveredHook     = func(int) {}
)

// SetMetricHooks wires Prometheus callbacks for the pipeline lifecycle so
// the package stays importable without the metrics registry. Nil hooks are
// replaced with no-ops.
func SetMetricHooks(
	fired AlertFiredHook,
	suppressed AlertSuppressedHook,
	passStarted, passFinished, eventProcessed PassHook,
	undelivered UndeliveredHook,
) {
	if fired == nil {
		fired = func(string, string) {}
	}
	if suppressed == nil {
		suppressed = func(string) {}
	}
	if passStarted == nil {
		passStarted = func() {}
	}
	if passFinished == nil {
		passFinished = func() {}
	}
	if eventProcessed == nil {
		eventProcessed = func() {}
	}
	if undelivered == nil {
		undelivered = func(int) {}
	}
	hookAlertFired = fired
	hookAlertSuppressed = suppressed
	hookPassStarted = passStarted
	hookPassFinished = passFinished
	hookEventProcessed = eventProcessed
	hookUndelivered = undelivered
}
