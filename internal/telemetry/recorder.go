// Package telemetry turns device notifications into InfluxDB points.
//
// INVOKE and SAMPLE events become "inference" summaries (detection counts,
// best score and the device's perf timings). Connects and disconnects
// become "device_connectivity" points, and device logs "device_log" points.
package telemetry

import (
	"encoding/json"
	"strings"

	"github.com/nerrad567/sscma-core/internal/device"
	"github.com/nerrad567/sscma-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sscma-core/internal/protocol"
)

// Writer is the subset of the InfluxDB client the recorder uses.
// *influxdb.Client satisfies it.
type Writer interface {
	WriteInference(s influxdb.InferenceSample)
	WriteConnectivity(deviceID string, connected bool, status uint32)
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// StateSource supplies the model name and status flags.
// *device.Device satisfies it.
type StateSource interface {
	Snapshot() device.State
}

// Recorder writes telemetry for one device. It implements device.Observer.
type Recorder struct {
	writer Writer
	state  StateSource
}

var _ device.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder. state may be nil.
func NewRecorder(w Writer, state StateSource) *Recorder {
	return &Recorder{writer: w, state: state}
}

func (r *Recorder) snapshot() device.State {
	if r.state == nil {
		return device.State{}
	}
	return r.state.Snapshot()
}

// OnConnect writes connected=1.
func (r *Recorder) OnConnect(e device.ConnectEvent) {
	r.writer.WriteConnectivity(e.Info.ID, true, uint32(r.snapshot().Status))
}

// OnDisconnect writes connected=0.
func (r *Recorder) OnDisconnect(e device.DisconnectEvent) {
	r.writer.WriteConnectivity(e.DeviceID, false, uint32(device.StatusUnknown))
}

// OnMonitor summarises INVOKE and SAMPLE events. Other events are skipped.
func (r *Recorder) OnMonitor(e device.MonitorEvent) {
	if !strings.Contains(e.Name, protocol.EventInvoke) && !strings.Contains(e.Name, protocol.EventSample) {
		return
	}

	sample := Summarize(e.Data)
	sample.DeviceID = e.DeviceID
	sample.Event = e.Name
	sample.Code = e.Code
	sample.Time = e.Time
	if model := r.snapshot().Model; model != nil {
		sample.Model = model.Name
	}
	r.writer.WriteInference(sample)
}

// OnLog writes the log line.
func (r *Recorder) OnLog(e device.LogEntry) {
	r.writer.WritePoint(influxdb.MeasurementLog,
		map[string]string{"device_id": e.DeviceID},
		map[string]interface{}{"code": e.Code, "message": e.Message},
	)
}

// result is the detection payload of INVOKE events.
//
//	boxes:     [x, y, w, h, score, target]
//	classes:   [score, target]
//	points:    [x, y, score, target]
//	keypoints: [[x, y, w, h, score, target], [[x, y, score], ...]]
//	perf:      [preprocess, inference, postprocess] in ms
type result struct {
	Boxes     [][]float64       `json:"boxes"`
	Classes   [][]float64       `json:"classes"`
	Points    [][]float64       `json:"points"`
	Keypoints []json.RawMessage `json:"keypoints"`
	Perf      []float64         `json:"perf"`
}

// Summarize extracts counts, the best score and perf timings from an
// event payload. Unparseable payloads yield a zero summary.
func Summarize(data json.RawMessage) influxdb.InferenceSample {
	var s influxdb.InferenceSample
	var res result
	if len(data) == 0 || json.Unmarshal(data, &res) != nil {
		return s
	}

	s.Boxes = len(res.Boxes)
	s.Classes = len(res.Classes)
	s.Points = len(res.Points)
	s.Keypoints = len(res.Keypoints)

	for _, box := range res.Boxes {
		if len(box) >= 5 {
			s.TopScore = max(s.TopScore, box[4])
		}
	}
	for _, class := range res.Classes {
		if len(class) >= 1 {
			s.TopScore = max(s.TopScore, class[0])
		}
	}
	for _, point := range res.Points {
		if len(point) >= 3 {
			s.TopScore = max(s.TopScore, point[2])
		}
	}

	if len(res.Perf) == 3 {
		s.PreprocessMs = res.Perf[0]
		s.InferenceMs = res.Perf[1]
		s.PostprocessMs = res.Perf[2]
	}
	return s
}
