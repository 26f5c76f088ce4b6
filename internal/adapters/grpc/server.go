package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/veltrix/sessiongate/internal/application"
	"github.com/veltrix/sessiongate/internal/domain"
)

// SessionInternalService is the internal API sibling services call instead
// of re-implementing session validation. Messages are structpb documents;
// the contract is small enough that a generated stub would outweigh it.
type SessionInternalService interface {
	ValidateSession(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CheckAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type SessionInternalServer struct {
	service *application.Service
}

func NewSessionInternalServer(service *application.Service) *SessionInternalServer {
	return &SessionInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc SessionInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sessiongate.v1.SessionInternalService",
		HandlerType: (*SessionInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ValidateSession",
				Handler:    validateSessionHandler(svc),
			},
			{
				MethodName: "CheckAccess",
				Handler:    checkAccessHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "sessiongate/v1/session_internal.proto",
	}, svc)
}

// ValidateSession answers whether a valid session is held, renewing one
// that can be renewed first. An unrenewable or absent session is a negative
// answer, not an error.
func (s *SessionInternalServer) ValidateSession(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	valid, err := s.service.ValidateSession(ctx)
	if err != nil && !errors.Is(err, domain.ErrRefreshFailed) {
		return nil, rpcError(err)
	}

	fields := map[string]any{"valid": valid}
	if valid {
		st := s.service.Status()
		if st.Identity != nil {
			fields["user_id"] = st.Identity.ID
		}
		if st.ExpiresAt != nil {
			fields["expires_at"] = st.ExpiresAt.Unix()
		}
		fields["needs_refresh"] = st.NeedsRefresh
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// CheckAccess evaluates one resource/action pair against the session
// identity. A denial is a normal response; only a missing or dead session
// is an error.
func (s *SessionInternalServer) CheckAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resource := req.GetFields()["resource"].GetStringValue()
	action := req.GetFields()["action"].GetStringValue()
	if resource == "" {
		return nil, status.Error(codes.InvalidArgument, "missing resource")
	}
	if action == "" {
		return nil, status.Error(codes.InvalidArgument, "missing action")
	}

	decision, err := s.service.CheckAccess(ctx, resource, action)
	if err != nil {
		return nil, rpcError(err)
	}

	fields := map[string]any{
		"allowed": decision.Allowed,
		"reason":  decision.Reason,
	}
	if len(decision.MissingPermissions) > 0 {
		missing := make([]any, len(decision.MissingPermissions))
		for i, p := range decision.MissingPermissions {
			missing[i] = p
		}
		fields["missing_permissions"] = missing
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

// rpcError maps service sentinels onto gRPC status codes.
func rpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNoSession):
		return status.Error(codes.Unauthenticated, "no active session")
	case errors.Is(err, domain.ErrSessionExpired):
		return status.Error(codes.Unauthenticated, "session expired")
	case errors.Is(err, domain.ErrRefreshFailed):
		return status.Error(codes.Unauthenticated, "session refresh failed")
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrStorage):
		return status.Error(codes.Unavailable, "session storage unavailable")
	default:
		return status.Errorf(codes.Internal, "session check: %v", err)
	}
}

func validateSessionHandler(svc SessionInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &emptypb.Empty{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.ValidateSession(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/sessiongate.v1.SessionInternalService/ValidateSession",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*emptypb.Empty)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.ValidateSession(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func checkAccessHandler(svc SessionInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.CheckAccess(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/sessiongate.v1.SessionInternalService/CheckAccess",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.CheckAccess(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
