package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the host.
const (
	MeasurementInference    = "inference"
	MeasurementConnectivity = "device_connectivity"
	MeasurementLog          = "device_log"
)

// InferenceSample summarises one INVOKE or SAMPLE event.
// Box, class and point counts are per frame; perf values are device-reported milliseconds.
type InferenceSample struct {
	DeviceID string
	Model    string
	Event    string
	Code     int

	Boxes     int
	Classes   int
	Points    int
	Keypoints int
	TopScore  float64

	PreprocessMs  float64
	InferenceMs   float64
	PostprocessMs float64

	Time time.Time
}

// WriteInference writes one inference summary.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteInference(influxdb.InferenceSample{
//	    DeviceID: "grove_vision_ai_we2_1", Event: "INVOKE", Boxes: 2, InferenceMs: 41,
//	})
func (c *Client) WriteInference(s InferenceSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(inferencePoint(s))
}

// WriteConnectivity records a device connection transition along with
// the raw status flags at that moment.
func (c *Client) WriteConnectivity(deviceID string, connected bool, status uint32) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectivityPoint(deviceID, connected, status, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func inferencePoint(s InferenceSample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"device_id": s.DeviceID,
		"event":     s.Event,
	}
	if s.Model != "" {
		tags["model"] = s.Model
	}

	fields := map[string]interface{}{
		"code":      s.Code,
		"boxes":     s.Boxes,
		"classes":   s.Classes,
		"points":    s.Points,
		"keypoints": s.Keypoints,
	}
	if s.TopScore > 0 {
		fields["top_score"] = s.TopScore
	}
	// Sample events carry no perf block.
	if s.PreprocessMs > 0 || s.InferenceMs > 0 || s.PostprocessMs > 0 {
		fields["preprocess_ms"] = s.PreprocessMs
		fields["inference_ms"] = s.InferenceMs
		fields["postprocess_ms"] = s.PostprocessMs
	}

	return write.NewPoint(MeasurementInference, tags, fields, ts)
}

func connectivityPoint(deviceID string, connected bool, status uint32, ts time.Time) *write.Point {
	value := 0
	if connected {
		value = 1
	}
	return write.NewPoint(
		MeasurementConnectivity,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"connected": value,
			"status":    int64(status),
		},
		ts,
	)
}
