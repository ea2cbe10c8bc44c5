package grpcclient

import (
	"context"
	"fmt"
	"time"

	"fxalert/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Wire names of the collector service.
const (
	ServiceName   = "fxalert.v1.AlertCollector"
	PublishMethod = "/" + ServiceName + "/Publish"
)

// Payload field names.
const (
	FieldBatchID      = "batch_id"
	FieldAlerts       = "alerts"
	FieldTimestamp    = "timestamp"
	FieldCurrencyPair = "currency_pair"
	FieldAlert        = "alert"
	FieldSeconds      = "seconds"
	FieldNanos        = "nanos"
	FieldAccepted     = "accepted"
)

// CollectorServer is the server side of the collector service.
type CollectorServer interface {
	Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// CollectorFunc adapts a function over decoded batches to CollectorServer.
// It returns the number of accepted alerts.
type CollectorFunc func(ctx context.Context, batchID string, alerts []*models.Alert) (int, error)

// Publish decodes the request and hands it to f.
func (f CollectorFunc) Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	batchID, alerts, err := DecodeBatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	accepted, err := f(ctx, batchID, alerts)
	if err != nil {
		return nil, err
	}
	return AcceptedResponse(accepted), nil
}

// CollectorServiceDesc describes the collector service for grpc.Server.RegisterService.
var CollectorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fxalert/v1/collector.proto",
}

// RegisterCollectorServer registers srv on s.
func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&CollectorServiceDesc, srv)
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PublishMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// AcceptedResponse builds the Publish response.
func AcceptedResponse(accepted int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAccepted: structpb.NewNumberValue(float64(accepted)),
	}}
}

// EncodeBatch converts alerts into a Publish request.
func EncodeBatch(batchID string, alerts []*models.Alert) (*structpb.Struct, error) {
	list := make([]*structpb.Value, 0, len(alerts))
	for i, a := range alerts {
		if a == nil {
			return nil, fmt.Errorf("alert %d is nil", i)
		}
		ts := ConvertToTimestamp(a.Timestamp)
		fields := map[string]*structpb.Value{
			FieldTimestamp: structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				FieldSeconds: structpb.NewNumberValue(float64(ts.GetSeconds())),
				FieldNanos:   structpb.NewNumberValue(float64(ts.GetNanos())),
			}}),
			FieldCurrencyPair: structpb.NewStringValue(a.CurrencyPair),
			FieldAlert:        structpb.NewStringValue(a.Alert),
		}
		if a.Seconds != nil {
			fields[FieldSeconds] = structpb.NewNumberValue(float64(*a.Seconds))
		}
		list = append(list, structpb.NewStructValue(&structpb.Struct{Fields: fields}))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldBatchID: structpb.NewStringValue(batchID),
		FieldAlerts:  structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}, nil
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(req *structpb.Struct) (string, []*models.Alert, error) {
	fields := req.GetFields()
	batchID := fields[FieldBatchID].GetStringValue()
	if batchID == "" {
		return "", nil, fmt.Errorf("missing %s", FieldBatchID)
	}

	values := fields[FieldAlerts].GetListValue().GetValues()
	alerts := make([]*models.Alert, 0, len(values))
	for i, v := range values {
		item := v.GetStructValue().GetFields()
		if item == nil {
			return batchID, nil, fmt.Errorf("alert %d is not an object", i)
		}

		tsFields := item[FieldTimestamp].GetStructValue().GetFields()
		if tsFields == nil {
			return batchID, nil, fmt.Errorf("alert %d: missing %s", i, FieldTimestamp)
		}
		ts := &timestamppb.Timestamp{
			Seconds: int64(tsFields[FieldSeconds].GetNumberValue()),
			Nanos:   int32(tsFields[FieldNanos].GetNumberValue()),
		}
		if err := ts.CheckValid(); err != nil {
			return batchID, nil, fmt.Errorf("alert %d: %w", i, err)
		}

		alert := models.NewAlert(ConvertFromTimestamp(ts), item[FieldCurrencyPair].GetStringValue(), item[FieldAlert].GetStringValue())
		if alert.CurrencyPair == "" || alert.Alert == "" {
			return batchID, nil, fmt.Errorf("alert %d: missing %s or %s", i, FieldCurrencyPair, FieldAlert)
		}
		if s, ok := item[FieldSeconds]; ok {
			seconds := int64(s.GetNumberValue())
			alert.Seconds = &seconds
		}
		alerts = append(alerts, alert)
	}
	return batchID, alerts, nil
}

// ConvertToTimestamp converts a time.Time to a protobuf timestamp.
func ConvertToTimestamp(t time.Time) *timestamppb.Timestamp {
	if t.IsZero() {
		return nil
	}
	return timestamppb.New(t)
}

// ConvertFromTimestamp converts a protobuf timestamp to a UTC time.Time.
func ConvertFromTimestamp(ts *timestamppb.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.AsTime()
}
