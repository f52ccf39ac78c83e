package grpc

import (
	"context"
	"errors"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	pb "github.com/Masparrito/lactokeeper-sub001/internal/proto"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/broker"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *GRPCServer) Ping(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "OK"})
}

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	creds, err := pb.CredentialsFromStruct(req)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registration request", "username", creds.Username)

	user, err := s.users.Register(ctx, creds.Username, []byte(creds.Password))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registered", "username", creds.Username, "user_id", user.ID)
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	creds, err := pb.CredentialsFromStruct(req)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	tokens, err := s.users.Login(ctx, creds.Username, []byte(creds.Password))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return pb.Tokens{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken, OwnerID: tokens.OwnerID}.Struct()
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := pb.TokensFromStruct(req)
	if in.RefreshToken == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	tokens, err := s.users.RefreshToken(ctx, in.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return pb.Tokens{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken, OwnerID: tokens.OwnerID}.Struct()
}

func (s *GRPCServer) Upsert(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	r, err := pb.UpsertFromStruct(req)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if err := s.documents.Upsert(ctx, owner, r.OpID, r.Kind, r.ID, r.Record); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) Delete(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	r, err := pb.DeleteFromStruct(req)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if err := s.documents.Delete(ctx, owner, r.OpID, r.Kind, r.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) BatchCommit(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	r, err := pb.BatchFromStruct(req)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	muts := make([]services.Mutation, 0, len(r.Mutations))
	for _, m := range r.Mutations {
		muts = append(muts, services.Mutation{Kind: m.Kind, ID: m.ID, Record: m.Record})
	}
	if err := s.documents.Batch(ctx, owner, r.OpID, muts); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &emptypb.Empty{}, nil
}

// Subscribe streams deltas of one kind to the authenticated owner until the
// client goes away, the server shuts down or the subscriber falls behind.
func (s *GRPCServer) Subscribe(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	owner, ok := userIDFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	r, err := pb.SubscribeFromStruct(req)
	if err != nil {
		return s.toStatus(ctx, err)
	}
	if r.OwnerID != "" && r.OwnerID != owner {
		return status.Error(codes.PermissionDenied, "owner does not match token")
	}

	sub, err := s.documents.Subscribe(ctx, owner, r.Kind)
	if err != nil {
		return s.toStatus(ctx, err)
	}
	defer sub.Cancel()

	logger := s.logger.With("owner_id", owner, "kind", r.Kind)
	logger.Debug(ctx, "subscriber attached")
	defer logger.Debug(context.Background(), "subscriber detached")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return status.Error(codes.Unavailable, "server shutting down")
		case d, ok := <-sub.C():
			if !ok {
				if sub.Lagged() {
					logger.Warn(ctx, "subscriber lagged, dropping stream")
					return status.Error(codes.Unavailable, "subscriber lagged")
				}
				return nil
			}
			msg, err := toWireDelta(d).Struct()
			if err != nil {
				logger.Error(ctx, "encode delta", "error", err)
				return status.Error(codes.Internal, "internal error")
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func toWireDelta(d broker.Delta) pb.Delta {
	out := pb.Delta{Kind: d.Kind, OpID: d.OpID, Snapshot: d.Snapshot, Changes: make([]pb.Change, 0, len(d.Changes))}
	for _, c := range d.Changes {
		out.Changes = append(out.Changes, pb.Change{Type: c.Type, Record: c.Record})
	}
	return out
}

// toStatus maps service errors onto gRPC codes the client understands.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, pb.ErrMalformed), errors.Is(err, common.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrUserExists):
		return status.Error(codes.AlreadyExists, "user already exists")
	case errors.Is(err, common.ErrOwnershipConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())
	case errors.Is(err, common.ErrTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrTokenExpired.Error())
	case errors.Is(err, common.ErrorUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}
