package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Masparrito/lactokeeper-sub001/internal/common"
	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	pb "github.com/Masparrito/lactokeeper-sub001/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      pb.SyncServiceClient
	logger      logging.Logger
	backoff     Backoff

	mu           sync.RWMutex
	accessToken  string
	refreshToken string

	refreshMu sync.Mutex
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) tokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.refreshToken
}

// SetTokens installs a token pair, e.g. after Login.
func (s *GRPCClient) SetTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = access
	s.refreshToken = refresh
}

func isTokenExpired(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == codes.Unauthenticated && st.Message() == common.ErrTokenExpired.Error()
}

// refresh exchanges the refresh token for a new pair. used is the access
// token the failed call carried; when it is no longer current another caller
// already refreshed.
func (s *GRPCClient) refresh(ctx context.Context, used string) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	access, refresh := s.tokens()
	if access != used {
		return nil
	}
	if refresh == "" {
		return ErrUnauthorized
	}
	req, err := pb.Tokens{RefreshToken: refresh}.Struct()
	if err != nil {
		return err
	}
	resp, err := s.client.RefreshToken(ctx, req)
	if err != nil {
		return err
	}
	t := pb.TokensFromStruct(resp)
	s.SetTokens(t.AccessToken, t.RefreshToken)
	return nil
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	access, _ := s.tokens()
	err := invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
	if err == nil || !isTokenExpired(err) || method == pb.SyncService_RefreshToken_FullMethodName {
		return err
	}

	if rerr := s.refresh(ctx, access); rerr != nil {
		return err
	}
	access, _ = s.tokens()
	return invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
}

func (s *GRPCClient) streamAccessTokenInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	access, _ := s.tokens()
	return streamer(withAccessToken(ctx, access), desc, cc, method, opts...)
}

// NewGRPCClient creates a client for endpointURL. Extra dial options are
// appended to the defaults, e.g. a custom dialer in tests.
func NewGRPCClient(endpointURL string, logger logging.Logger, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{
		endpointURL: endpointURL,
		logger:      logger.With("module", "grpc_client"),
		backoff:     DefaultBackoff,
	}
	if err := c.InitGRPCClient(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(extra ...grpc.DialOption) error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
		grpc.WithStreamInterceptor(s.streamAccessTokenInterceptor),
	}, extra...)
	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = pb.NewSyncServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) Register(ctx context.Context, username string, password []byte) error {
	req, err := pb.Credentials{Username: username, Password: string(password)}.Struct()
	if err != nil {
		return err
	}
	if _, err := s.client.Register(ctx, req); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) Login(ctx context.Context, username string, password []byte) (string, error) {
	req, err := pb.Credentials{Username: username, Password: string(password)}.Struct()
	if err != nil {
		return "", err
	}
	resp, err := s.client.Login(ctx, req)
	if err != nil {
		return "", s.mapError(err)
	}
	t := pb.TokensFromStruct(resp)
	if t.OwnerID == "" {
		return "", fmt.Errorf("login response without owner id")
	}
	s.SetTokens(t.AccessToken, t.RefreshToken)
	return t.OwnerID, nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &emptypb.Empty{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.GetFields()["status"].GetStringValue() != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Upsert(ctx context.Context, opID, kind, id string, record map[string]any) error {
	req, err := pb.UpsertRequest{OpID: opID, Kind: kind, ID: id, Record: record}.Struct()
	if err != nil {
		return err
	}
	if _, err := s.client.Upsert(ctx, req); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) Delete(ctx context.Context, opID, kind, id string) error {
	req, err := pb.DeleteRequest{OpID: opID, Kind: kind, ID: id}.Struct()
	if err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, req); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) BatchCommit(ctx context.Context, opID string, mutations []Mutation) error {
	muts := make([]pb.Mutation, 0, len(mutations))
	for _, m := range mutations {
		muts = append(muts, pb.Mutation{Kind: m.Kind, ID: m.ID, Record: m.Record})
	}
	req, err := pb.BatchRequest{OpID: opID, Mutations: muts}.Struct()
	if err != nil {
		return err
	}
	if _, err := s.client.BatchCommit(ctx, req); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.AlreadyExists:
		return common.ErrUserExists
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", common.ErrOwnershipConflict, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", common.ErrInvalidInput, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
