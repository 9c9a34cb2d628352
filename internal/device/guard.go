package device

// Operation identifies a guarded device operation.
type Operation int

// Guarded operations.
const (
	OpInfo Operation = iota
	OpModel
	OpWiFi
	OpMQTT
	OpSample
	OpInvoke
	OpTScore
	OpTIoU
	OpSetWiFi
	OpSetMQTTServer
	OpSetMQTTPubSub
	OpBreak
	OpReset
)

var operationNames = map[Operation]string{
	OpInfo:          "info",
	OpModel:         "model",
	OpWiFi:          "wifi",
	OpMQTT:          "mqtt",
	OpSample:        "sample",
	OpInvoke:        "invoke",
	OpTScore:        "tscore",
	OpTIoU:          "tiou",
	OpSetWiFi:       "set_wifi",
	OpSetMQTTServer: "set_mqtt_server",
	OpSetMQTTPubSub: "set_mqtt_pubsub",
	OpBreak:         "break",
	OpReset:         "reset",
}

func (o Operation) String() string {
	if s, ok := operationNames[o]; ok {
		return s
	}
	return "unknown"
}

// requirements maps each operation to the flags that must all be set.
var requirements = map[Operation]Status{
	OpInfo:          StatusReady,
	OpModel:         StatusReady,
	OpWiFi:          StatusReady,
	OpMQTT:          StatusReady,
	OpSample:        StatusReady,
	OpInvoke:        StatusReady,
	OpTScore:        StatusReady | StatusInvoking,
	OpTIoU:          StatusReady | StatusInvoking,
	OpSetWiFi:       StatusReady,
	OpSetMQTTServer: StatusReady,
	OpSetMQTTPubSub: StatusReady,
	OpBreak:         StatusUnknown,
	OpReset:         StatusUnknown,
}

// Requirement returns the flags op needs.
func Requirement(op Operation) Status {
	return requirements[op]
}

// Can reports whether op is permitted in status.
func Can(op Operation, status Status) bool {
	return status.Has(requirements[op])
}
