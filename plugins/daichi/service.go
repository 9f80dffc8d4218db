package daichi

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-daichi/internal/rpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "gohome.plugins.daichi.v1.DaichiService"

type service struct {
	client *Client
	poller *Poller
}

func serviceDescriptor(s *service) rpc.Service {
	return rpc.Service{
		Package: "gohome.plugins.daichi.v1",
		Name:    "DaichiService",
		Methods: []rpc.Method{
			{Name: "ListDevices", Handler: s.ListDevices},
			{Name: "GetDevice", Handler: s.GetDevice},
			{Name: "ListBuildings", Handler: s.ListBuildings},
			{Name: "ControlDevice", Handler: s.ControlDevice},
			{Name: "Refresh", Handler: s.Refresh},
			{Name: "ListFunctions", Handler: s.ListFunctions},
		},
	}
}

func RegisterDaichiService(server *grpc.Server, client *Client, poller *Poller) error {
	return rpc.Register(server, serviceDescriptor(&service{client: client, poller: poller}))
}

func (s *service) ready() error {
	if s.client == nil || s.poller == nil {
		return status.Error(codes.FailedPrecondition, "daichi client not configured")
	}
	return nil
}

func (s *service) ListDevices(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	snapshot := s.poller.Snapshot()
	devices := make([]any, 0, snapshot.Len())
	for _, id := range snapshot.Order {
		devices = append(devices, deviceSummary(id, snapshot.Devices[id]))
	}
	return structpb.NewStruct(map[string]any{
		"devices":    devices,
		"updated_at": formatTime(snapshot.UpdatedAt),
	})
}

func (s *service) GetDevice(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, ok, err := rpc.Int(req, "device_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	key := strconv.FormatInt(id, 10)
	record, found := s.poller.Snapshot().Device(key)
	if !found {
		return nil, status.Errorf(codes.NotFound, "device %s not found", key)
	}

	raw, err := recordStruct(record)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode device %s: %v", key, err)
	}
	out, err := structpb.NewStruct(map[string]any{"device": deviceSummary(key, record)})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode device %s: %v", key, err)
	}
	out.Fields["record"] = structpb.NewStructValue(raw)
	return out, nil
}

func (s *service) ListBuildings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	buildings, err := s.client.Buildings(ctx, rpc.Bool(req, "force_refresh"))
	if err != nil {
		return nil, grpcError(err)
	}
	out := make([]any, 0, len(buildings))
	for _, b := range buildings {
		out = append(out, map[string]any{
			"id":           strconv.FormatInt(b.ID, 10),
			"title":        b.Title,
			"device_count": len(b.Places),
		})
	}
	return structpb.NewStruct(map[string]any{"buildings": out})
}

func (s *service) ControlDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	deviceID, ok, err := rpc.Int(req, "device_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	fn, err := ParseFunctionID(rpc.String(req, "function"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	value, err := valueArg(req.GetFields()["value"])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var parameters map[string]any
	if params := req.GetFields()["parameters"].GetStructValue(); params != nil {
		parameters = params.AsMap()
	}

	result, err := s.client.ControlDevice(ctx, deviceID, fn, value, parameters)
	if err != nil {
		return nil, grpcError(err)
	}
	s.poller.RequestRefresh()

	out, err := structpb.NewStruct(map[string]any{
		"done":            result.Done,
		"update_required": result.UpdateRequired,
		"function":        fn.String(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	if errs := rawValue(result.Errors); errs != nil {
		out.Fields["errors"] = errs
	}
	return out, nil
}

func (s *service) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	snapshot, err := s.poller.Refresh(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"devices":    snapshot.Len(),
		"updated_at": formatTime(snapshot.UpdatedAt),
	})
}

func (s *service) ListFunctions(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	functions := make([]any, 0, len(functionNames))
	for _, id := range Functions() {
		functions = append(functions, map[string]any{
			"id":   int(id),
			"name": id.String(),
			"mode": id.IsMode(),
		})
	}
	return structpb.NewStruct(map[string]any{"functions": functions})
}

func deviceSummary(id string, record Record) map[string]any {
	device := record.Device()
	summary := map[string]any{
		"device_id": id,
		"title":     device.DisplayName(),
		"status":    device.Status,
		"connected": !device.Disconnected(),
		"power_on":  device.PowerOn(),
	}
	if device.Serial != "" {
		summary["serial"] = device.Serial
	}
	if device.DeviceInfo != nil {
		summary["brand"] = device.DeviceInfo.Brand
		summary["model"] = device.DeviceInfo.Model
	}
	if mode, ok := device.Mode(); ok {
		summary["mode"] = mode.String()
	}
	if value, ok := device.TargetTemperature(); ok {
		summary["target_temperature"] = value
	}
	if value, ok := device.CurrentTemperature(); ok {
		summary["current_temperature"] = value
	}
	if value, ok := device.OutdoorTemperature(); ok {
		summary["outdoor_temperature"] = value
	}
	if value, ok := device.RelativeHumidity(); ok {
		summary["humidity"] = value
	}
	return summary
}

func recordStruct(record Record) (*structpb.Struct, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func rawValue(raw json.RawMessage) *structpb.Value {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	out := &structpb.Value{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return structpb.NewStringValue(string(raw))
	}
	return out
}

func valueArg(v *structpb.Value) (Value, error) {
	if v == nil {
		return NoValue, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return NoValue, nil
	case *structpb.Value_BoolValue:
		return Bool(kind.BoolValue), nil
	case *structpb.Value_NumberValue:
		return Number(kind.NumberValue), nil
	case *structpb.Value_StringValue:
		return ParseValue(kind.StringValue)
	}
	return NoValue, errors.New("value must be a bool, number, or string")
}

// ParseValue reads "on"/"off"/"true"/"false" or a number. Empty is NoValue.
func ParseValue(input string) (Value, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	switch text {
	case "":
		return NoValue, nil
	case "on", "true", "yes":
		return Bool(true), nil
	case "off", "false", "no":
		return Bool(false), nil
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return NoValue, errors.New("value must be on, off, true, false, or a number")
	}
	return Number(n), nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAuth), errors.Is(err, ErrAuthFailed):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrDeviceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case isContextError(err):
		return status.FromContextError(err).Err()
	case errors.Is(err, ErrCannotConnect), errors.Is(err, ErrUpdateFailed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
