package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/sscma-core/internal/device"
)

// SampleRequest is the body of POST /device/sample.
type SampleRequest struct {
	// Count is the number of frames; -1 runs until stopped, 0 stops.
	Count *int `json:"count"`
}

// InvokeRequest is the body of POST /device/invoke.
type InvokeRequest struct {
	Count  *int `json:"count"`
	Filter bool `json:"filter"`

	// Show attaches the captured image to each result. Default true.
	Show *bool `json:"show"`
}

// ThresholdRequest is the body of PUT /device/tscore and /device/tiou.
type ThresholdRequest struct {
	Value *int `json:"value"`
}

// WiFiRequest is the body of PUT /device/wifi.
type WiFiRequest struct {
	SSID       string `json:"ssid"`
	Password   string `json:"password"`
	Encryption int    `json:"encryption"`
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// skipCache reads the ?refresh=true query flag.
func skipCache(r *http.Request) bool {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")) //nolint:errcheck // absent or malformed means false
	return refresh
}

// handleGetDevice returns the device snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.device.Snapshot())
}

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.device.Info(r.Context(), skipCache(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := s.device.Model(r.Context(), skipCache(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (s *Server) handleGetWiFi(w http.ResponseWriter, r *http.Request) {
	wifi, err := s.device.WiFi(r.Context(), skipCache(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wifi)
}

func (s *Server) handleGetMQTT(w http.ResponseWriter, r *http.Request) {
	info, err := s.device.MQTT(r.Context(), skipCache(r))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleSample starts or stops sampling.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	var req SampleRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Count == nil {
		writeBadRequest(w, "count is required")
		return
	}

	data, err := s.device.Sample(r.Context(), *req.Count)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": data,
		"status": s.device.Snapshot().Flags,
	})
}

// handleInvoke starts or stops inference.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Count == nil {
		writeBadRequest(w, "count is required")
		return
	}
	show := true
	if req.Show != nil {
		show = *req.Show
	}

	data, err := s.device.Invoke(r.Context(), *req.Count, req.Filter, show)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": data,
		"status": s.device.Snapshot().Flags,
	})
}

func (s *Server) handleBreak(w http.ResponseWriter, r *http.Request) {
	if err := s.device.Break(r.Context()); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": s.device.Snapshot().Flags})
}

// handleReset reboots the device. It returns once re-initialization ran,
// whether or not the device came back READY.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.device.Reset(r.Context()); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": s.device.Snapshot().Flags})
}

func (s *Server) handleGetTScore(w http.ResponseWriter, r *http.Request) {
	value, err := s.device.TScore(r.Context())
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"value": value})
}

func (s *Server) handleSetTScore(w http.ResponseWriter, r *http.Request) {
	s.setThreshold(w, r, s.device.SetTScore)
}

func (s *Server) handleGetTIoU(w http.ResponseWriter, r *http.Request) {
	value, err := s.device.TIoU(r.Context())
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"value": value})
}

func (s *Server) handleSetTIoU(w http.ResponseWriter, r *http.Request) {
	s.setThreshold(w, r, s.device.SetTIoU)
}

func (s *Server) setThreshold(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, value int) error) {
	var req ThresholdRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	if err := set(r.Context(), *req.Value); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"value": *req.Value})
}

func (s *Server) handleSetWiFi(w http.ResponseWriter, r *http.Request) {
	var req WiFiRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.SSID == "" {
		writeBadRequest(w, "ssid is required")
		return
	}

	if err := s.device.SetWiFi(r.Context(), req.SSID, req.Password, device.Encryption(req.Encryption)); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": s.device.Snapshot().Flags})
}

func (s *Server) handleSetMQTTServer(w http.ResponseWriter, r *http.Request) {
	var req device.MQTTServer
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	if err := s.device.SetMQTTServer(r.Context(), req); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": s.device.Snapshot().Flags})
}

func (s *Server) handleSetMQTTPubSub(w http.ResponseWriter, r *http.Request) {
	var req device.MQTTPubSub
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.device.SetMQTTPubSub(r.Context(), req); err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
