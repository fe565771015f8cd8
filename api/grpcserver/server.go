package grpcserver

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"relay/domain/ptswaiter"
	"relay/service"
)

// Server adapts UpdateService to gRPC.
type Server struct {
	svc *service.UpdateService
}

func NewServer(svc *service.UpdateService) *Server {
	return &Server{svc: svc}
}

// -------------------- Commands --------------------

func (s *Server) Ingest(
	ctx context.Context,
	req *IngestRequest,
) (*IngestResponse, error) {
	return s.ingest(ctx, req, false)
}

func (s *Server) IngestBatch(
	ctx context.Context,
	req *IngestRequest,
) (*IngestResponse, error) {
	return s.ingest(ctx, req, true)
}

func (s *Server) ingest(
	ctx context.Context,
	req *IngestRequest,
	batch bool,
) (*IngestResponse, error) {
	if req.Channel == "" {
		return nil, status.Error(codes.InvalidArgument, "channel is required")
	}

	res, err := s.svc.Ingest(ctx, req.Channel, req.Pts, req.Count, req.Payload, batch)
	if err != nil {
		if errors.Is(err, ptswaiter.ErrNegativeCount) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, err
	}

	st, err := s.svc.Status(ctx, req.Channel)
	if err != nil {
		return nil, err
	}

	log.Printf(
		"[gRPC] Ingest channel=%s pts=%d count=%d batch=%v result=%s",
		req.Channel, req.Pts, req.Count, batch, res,
	)

	return &IngestResponse{
		Status:    "ok",
		Result:    res.String(),
		Confirmed: st.Confirmed,
	}, nil
}

func (s *Server) Resync(
	ctx context.Context,
	req *ResyncRequest,
) (*ResyncResponse, error) {
	if req.Channel == "" {
		return nil, status.Error(codes.InvalidArgument, "channel is required")
	}

	if err := s.svc.CompleteResync(ctx, req.Channel, req.Pts); err != nil {
		return nil, err
	}

	log.Printf("[gRPC] Resync channel=%s pts=%d", req.Channel, req.Pts)

	return &ResyncResponse{Status: "ok"}, nil
}

// -------------------- Queries --------------------

func (s *Server) ChannelStatus(
	ctx context.Context,
	req *ChannelStatusRequest,
) (*ChannelStatusResponse, error) {
	if req.Channel == "" {
		return nil, status.Error(codes.InvalidArgument, "channel is required")
	}

	st, err := s.svc.Status(ctx, req.Channel)
	if err != nil {
		return nil, err
	}

	return &ChannelStatusResponse{
		Channel:        st.Channel,
		Known:          st.Known,
		Inited:         st.Inited,
		Confirmed:      st.Confirmed,
		Last:           st.Last,
		Pending:        int32(st.Pending),
		WaitingGapFill: st.WaitingGapFill,
		WaitingPoll:    st.WaitingPoll,
		Requesting:     st.Requesting,
		AppliedCount:   st.AppliedCount,
		BatchesApplied: st.BatchesApplied,
		LastPts:        st.LastPts,
	}, nil
}

// -------------------- Service wiring --------------------

// Register attaches the gateway to a gRPC server under relay.v1.UpdateGateway.
func Register(reg grpc.ServiceRegistrar, srv *Server) {
	reg.RegisterService(&serviceDesc, srv)
}

const fullServiceName = "relay.v1.UpdateGateway"

// serviceDesc is maintained by hand. The wire contract is the json codec
// plus the message structs in messages.go.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: fullServiceName,
	HandlerType: (*gatewayHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ingest", Handler: ingestHandler},
		{MethodName: "IngestBatch", Handler: ingestBatchHandler},
		{MethodName: "ChannelStatus", Handler: channelStatusHandler},
		{MethodName: "Resync", Handler: resyncHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay.v1.UpdateGateway",
}

type gatewayHandler interface {
	Ingest(context.Context, *IngestRequest) (*IngestResponse, error)
	IngestBatch(context.Context, *IngestRequest) (*IngestResponse, error)
	ChannelStatus(context.Context, *ChannelStatusRequest) (*ChannelStatusResponse, error)
	Resync(context.Context, *ResyncRequest) (*ResyncResponse, error)
}

func ingestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IngestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gatewayHandler).Ingest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fullServiceName + "/Ingest"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(gatewayHandler).Ingest(ctx, req.(*IngestRequest))
	})
}

func ingestBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(IngestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gatewayHandler).IngestBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fullServiceName + "/IngestBatch"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(gatewayHandler).IngestBatch(ctx, req.(*IngestRequest))
	})
}

func channelStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChannelStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gatewayHandler).ChannelStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fullServiceName + "/ChannelStatus"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(gatewayHandler).ChannelStatus(ctx, req.(*ChannelStatusRequest))
	})
}

func resyncHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResyncRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(gatewayHandler).Resync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fullServiceName + "/Resync"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(gatewayHandler).Resync(ctx, req.(*ResyncRequest))
	})
}
