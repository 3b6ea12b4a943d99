package mpi

const (
	labelKind      = "kind"
	labelOperation = "operation"
	labelStatus    = "status"
)

// MetricHook captures resource lifecycle telemetry.
type MetricHook interface {
	HandleFreed(attrs map[string]string)
	RequestCompleted(attrs map[string]string)
	RequestFailed(err error, attrs map[string]string)
	CallbackFailed(err error, attrs map[string]string)
	FatalError(err error, attrs map[string]string)
}

func metricHandleFreed(kind string) {
	if m := hooks().metrics; m != nil {
		m.HandleFreed(map[string]string{labelKind: kind})
	}
}

func metricRequest(op string, err error) {
	m := hooks().metrics
	if m == nil {
		return
	}
	if err != nil {
		m.RequestFailed(err, map[string]string{labelOperation: op, labelStatus: "error"})
		return
	}
	m.RequestCompleted(map[string]string{labelOperation: op, labelStatus: "ok"})
}

func metricCallbackFailed(kind, op string, err error) {
	if m := hooks().metrics; m != nil {
		m.CallbackFailed(err, map[string]string{labelKind: kind, labelOperation: op})
	}
}
