package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name of the anchor ledger.
const ServiceName = "handoff.ledger.v1.AnchorLedger"

const (
	methodSubmitAnchor = "/" + ServiceName + "/SubmitAnchor"
	methodIsAnchored   = "/" + ServiceName + "/IsAnchored"
	methodGetAnchor    = "/" + ServiceName + "/GetAnchor"
	methodRoot         = "/" + ServiceName + "/Root"
)

// AnchorLedgerServer is the server API for the anchor ledger service.
// Messages are protobuf well-known types so no generated code is required:
// SubmitAnchor takes {"anchor_hash","correlation_id"} and returns an entry
// struct; IsAnchored and GetAnchor take the anchor hash as a StringValue.
type AnchorLedgerServer interface {
	SubmitAnchor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IsAnchored(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetAnchor(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Root(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// RegisterAnchorLedgerServer registers srv on s.
func RegisterAnchorLedgerServer(s grpc.ServiceRegistrar, srv AnchorLedgerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for the anchor ledger service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnchorLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitAnchor", Handler: unaryHandler(methodSubmitAnchor, AnchorLedgerServer.SubmitAnchor)},
		{MethodName: "IsAnchored", Handler: unaryHandler(methodIsAnchored, AnchorLedgerServer.IsAnchored)},
		{MethodName: "GetAnchor", Handler: unaryHandler(methodGetAnchor, AnchorLedgerServer.GetAnchor)},
		{MethodName: "Root", Handler: unaryHandler(methodRoot, AnchorLedgerServer.Root)},
	},
	Streams: []grpc.StreamDesc{},
}

// unaryHandler adapts a typed server method to grpc's method handler shape.
func unaryHandler[Req any, Resp any, PReq interface {
	*Req
}](fullMethod string, call func(AnchorLedgerServer, context.Context, PReq) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnchorLedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnchorLedgerServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server exposes a Ledger over gRPC.
type Server struct {
	ledger Ledger
	logger *zap.Logger
}

// NewServer creates a Server backed by l.
func NewServer(l Ledger, logger *zap.Logger) *Server {
	return &Server{ledger: l, logger: logger}
}

// SubmitAnchor implements AnchorLedgerServer.
func (s *Server) SubmitAnchor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	anchorHash := fields["anchor_hash"].GetStringValue()
	correlationID := fields["correlation_id"].GetStringValue()

	e, err := s.ledger.SubmitAnchor(ctx, anchorHash, correlationID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return entryToStruct(e)
}

// IsAnchored implements AnchorLedgerServer.
func (s *Server) IsAnchored(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	ok, err := s.ledger.IsAnchored(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

// GetAnchor implements AnchorLedgerServer.
func (s *Server) GetAnchor(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if err := validateAnchor(req.GetValue()); err != nil {
		return nil, s.toStatus(err)
	}
	e, err := s.ledger.Lookup(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return entryToStruct(e)
}

// Root implements AnchorLedgerServer.
func (s *Server) Root(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	root, err := s.ledger.Root(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return wrapperspb.String(root), nil
}

func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAnchor):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		s.logger.Error("ledger operation failed", zap.Error(err))
		return status.Error(codes.Unavailable, err.Error())
	}
}

func entryToStruct(e *Entry) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"index":          e.Index,
		"timestamp":      e.Timestamp.UTC().Format(time.RFC3339Nano),
		"anchor_hash":    e.AnchorHash,
		"correlation_id": e.CorrelationID,
		"prev_hash":      e.PrevHash,
		"hash":           e.Hash,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode entry: %v", err)
	}
	return st, nil
}

func entryFromStruct(st *structpb.Struct) (*Entry, error) {
	f := st.GetFields()
	ts, err := time.Parse(time.RFC3339Nano, f["timestamp"].GetStringValue())
	if err != nil {
		return nil, errors.New("ledger returned an entry without a valid timestamp")
	}
	e := &Entry{
		Index:         int(f["index"].GetNumberValue()),
		Timestamp:     ts.UTC(),
		AnchorHash:    f["anchor_hash"].GetStringValue(),
		CorrelationID: f["correlation_id"].GetStringValue(),
		PrevHash:      f["prev_hash"].GetStringValue(),
		Hash:          f["hash"].GetStringValue(),
	}
	if e.Hash == "" {
		return nil, errors.New("ledger returned an entry without a hash")
	}
	return e, nil
}
