// Package grpcapi serves the ledger over gRPC. There is no protobuf schema:
// requests and responses are the JSON wire messages, carried by a codec
// registered under the "json" content subtype.
package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/msg"
	apperrors "github.com/pscheid92/pollbook/internal/platform/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "pollbook.v1.Ledger"

const (
	methodInstantiate = "/" + ServiceName + "/Instantiate"
	methodExecute     = "/" + ServiceName + "/Execute"
	methodQuery       = "/" + ServiceName + "/Query"
)

type appService interface {
	Instantiate(ctx context.Context, m domain.InstantiateMsg) (*domain.Response, error)
	Execute(ctx context.Context, cmd domain.Command) (*domain.Response, error)
	Query(ctx context.Context, q domain.Query) (any, error)
}

// ledgerServer is the handler type named in the service descriptor.
type ledgerServer interface {
	Instantiate(ctx context.Context, req *Frame) (*Frame, error)
	Execute(ctx context.Context, req *Frame) (*Frame, error)
	Query(ctx context.Context, req *Frame) (*Frame, error)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ledgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Instantiate", Handler: unaryHandler(methodInstantiate, ledgerServer.Instantiate)},
		{MethodName: "Execute", Handler: unaryHandler(methodExecute, ledgerServer.Execute)},
		{MethodName: "Query", Handler: unaryHandler(methodQuery, ledgerServer.Query)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pollbook/v1/ledger",
}

func unaryHandler(fullMethod string, call func(ledgerServer, context.Context, *Frame) (*Frame, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Frame)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ledgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ledgerServer), ctx, req.(*Frame))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ledgerService adapts the application service to the descriptor.
type ledgerService struct {
	app appService
}

var _ ledgerServer = (*ledgerService)(nil)

func (s *ledgerService) Instantiate(ctx context.Context, req *Frame) (*Frame, error) {
	m, err := msg.DecodeInstantiate(req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := s.app.Instantiate(ctx, m)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeFrame(resp)
}

func (s *ledgerService) Execute(ctx context.Context, req *Frame) (*Frame, error) {
	cmd, err := msg.DecodeExecute(req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := s.app.Execute(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeFrame(resp)
}

func (s *ledgerService) Query(ctx context.Context, req *Frame) (*Frame, error) {
	q, err := msg.DecodeQuery(req.Data)
	if err != nil {
		return nil, toStatus(err)
	}
	result, err := s.app.Query(ctx, q)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeFrame(result)
}

func encodeFrame(v any) (*Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return &Frame{Data: data}, nil
}

// toStatus maps ledger errors onto gRPC codes, keeping the client-facing
// message chosen by apperrors.FromDomain.
func toStatus(err error) error {
	structured := apperrors.FromDomain(err)

	var code codes.Code
	switch structured.Type {
	case apperrors.TypeValidation:
		code = codes.InvalidArgument
	case apperrors.TypeNotFound:
		code = codes.NotFound
	case apperrors.TypeConflict:
		code = codes.AlreadyExists
	case apperrors.TypeExternal:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, structured.Message)
}
