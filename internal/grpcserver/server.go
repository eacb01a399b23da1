// Package grpcserver implements the TradeFlow ingestion gRPC service.
package grpcserver

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mtiwari1/tradeflow/internal/identity"
	"github.com/mtiwari1/tradeflow/internal/intake"
	"github.com/mtiwari1/tradeflow/internal/pipeline"
	"github.com/mtiwari1/tradeflow/internal/ratelimit"
	pb "github.com/mtiwari1/tradeflow/proto"
)

// Sessions hands out the caller's pipeline.
type Sessions interface {
	For(ctx context.Context) (*pipeline.Pipeline, error)
}

// Server implements the IngestionServer gRPC interface.
// Dependencies are injected via the constructor, no global state.
type Server struct {
	sessions  Sessions
	uploadDir string
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
}

// NewServer creates the gRPC service. limiter may be nil.
func NewServer(sessions Sessions, uploadDir string, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	return &Server{sessions: sessions, uploadDir: uploadDir, limiter: limiter, logger: logger}
}

var _ pb.IngestionServer = (*Server)(nil)

// Submit spools the request's files and admits them to the caller's pipeline.
func (s *Server) Submit(ctx context.Context, req *pb.SubmitRequest) (*pb.SubmitResponse, error) {
	p, err := s.sessions.For(ctx)
	if err != nil {
		return nil, mapError(err, "Submit")
	}
	if len(req.Files) == 0 {
		return nil, status.Error(codes.InvalidArgument, "Submit: no files")
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(p.Owner()); err != nil {
			return nil, mapError(err, "Submit")
		}
	}

	srcs := make([]intake.Source, len(req.Files))
	for i, f := range req.Files {
		content := f.Content
		srcs[i] = intake.Source{Name: f.Name, Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		}}
	}

	ids, rejected, err := pipeline.Ingest(ctx, p, s.uploadDir, srcs)
	if err != nil {
		return nil, mapError(err, "Submit")
	}

	s.logger.Info("grpc Submit",
		slog.String("user_id", p.Owner()),
		slog.Int("accepted", len(ids)),
		slog.Int("rejected", len(rejected)),
	)

	resp := &pb.SubmitResponse{Accepted: ids}
	for _, r := range rejected {
		resp.Rejected = append(resp.Rejected, pb.Rejection{Name: r.Name, Reason: r.Reason})
	}
	return resp, nil
}

// Cancel removes one of the caller's uploads.
func (s *Server) Cancel(ctx context.Context, req *pb.CancelRequest) (*pb.CancelResponse, error) {
	p, err := s.sessions.For(ctx)
	if err != nil {
		return nil, mapError(err, "Cancel")
	}
	if err := p.Cancel(req.Id); err != nil {
		return nil, mapError(err, "Cancel")
	}
	return &pb.CancelResponse{Id: req.Id}, nil
}

// Snapshot lists the caller's uploads in submission order.
func (s *Server) Snapshot(ctx context.Context, _ *pb.SnapshotRequest) (*pb.SnapshotResponse, error) {
	p, err := s.sessions.For(ctx)
	if err != nil {
		return nil, mapError(err, "Snapshot")
	}
	items := p.Snapshot()
	resp := &pb.SnapshotResponse{Items: make([]pb.Item, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, toProto(it))
	}
	return resp, nil
}

// Credits returns the caller's local credit balance.
func (s *Server) Credits(ctx context.Context, _ *pb.CreditsRequest) (*pb.CreditsResponse, error) {
	p, err := s.sessions.For(ctx)
	if err != nil {
		return nil, mapError(err, "Credits")
	}
	return &pb.CreditsResponse{Remaining: int32(p.Credits())}, nil
}

func toProto(it pipeline.UploadItem) pb.Item {
	out := pb.Item{
		Id:        it.ID,
		FileName:  it.File.Name,
		MediaType: it.File.MediaType,
		Size:      it.File.Size,
		State:     string(it.State),
		Progress:  int32(it.Progress),
		Error:     it.Error,
	}
	if it.Result != nil {
		out.Result = &pb.PurchaseOrder{
			PoNumber:    it.Result.PONumber,
			VendorName:  it.Result.VendorName,
			TotalAmount: it.Result.TotalAmount,
			LineItems:   int32(it.Result.LineItemCount),
		}
	}
	return out
}

// mapError converts domain errors to proper gRPC status codes.
func mapError(err error, method string) error {
	code := codes.Internal
	switch {
	case errors.Is(err, identity.ErrNoSession):
		code = codes.Unauthenticated
	case errors.Is(err, identity.ErrUnavailable), errors.Is(err, pipeline.ErrQuotaUnavailable):
		code = codes.Unavailable
	case errors.Is(err, pipeline.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, pipeline.ErrClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, ratelimit.ErrLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Errorf(code, "%s: %v", method, err)
}
