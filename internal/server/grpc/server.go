package grpc

import (
	"context"
	"net"
	"sync"

	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	pb "github.com/Masparrito/lactokeeper-sub001/internal/proto"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/broker"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/services"
	"google.golang.org/grpc"
)

// UserService is the account side used by the handlers.
type UserService interface {
	Register(ctx context.Context, username string, password []byte) (*models.User, error)
	Login(ctx context.Context, username string, password []byte) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Authenticate(accessToken string) (string, error)
}

// DocumentService is the document side used by the handlers.
type DocumentService interface {
	Upsert(ctx context.Context, owner, opID, kind, id string, record map[string]any) error
	Delete(ctx context.Context, owner, opID, kind, id string) error
	Batch(ctx context.Context, owner, opID string, muts []services.Mutation) error
	Subscribe(ctx context.Context, owner, kind string) (*broker.Subscription, error)
}

type GRPCServer struct {
	pb.UnimplementedSyncServiceServer
	address   string
	users     UserService
	documents DocumentService
	logger    logging.Logger

	// shutdown ends open Subscribe streams, which GracefulStop waits for.
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewGRPCServer(a string, l logging.Logger, us UserService, ds DocumentService) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		documents: ds,
		shutdown:  make(chan struct{}),
	}
}

// NewServer returns a grpc.Server with the service and the auth interceptors
// registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	pb.RegisterSyncServiceServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping gRPC server...")
		s.stopOnce.Do(func() { close(s.shutdown) })
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}
