package server

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/reftriage/internal/auth"
	"github.com/triage-ai/reftriage/internal/service"
)

// ResolverServer implements ResolverService.
type ResolverServer struct {
	resolver *service.Resolver
	auth     auth.Authenticator
	logger   *zap.Logger
}

// NewResolverServer creates a ResolverServer with the given dependencies.
func NewResolverServer(resolver *service.Resolver, authenticator auth.Authenticator, logger *zap.Logger) *ResolverServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolverServer{
		resolver: resolver,
		auth:     authenticator,
		logger:   logger,
	}
}

// Resolve implements ResolverService.Resolve.
func (s *ResolverServer) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. Authenticate
	project, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Decode the request body
	sreq, err := decodeRequest(req)
	if err != nil {
		return nil, err
	}

	// 3. Resolve
	resp, err := s.resolver.Resolve(ctx, project, sreq)
	switch {
	case errors.Is(err, service.ErrInvalidSettings):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	}
	if err != nil {
		s.logger.Error("resolve failed", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "resolve failed")
	}

	// 4. Encode
	out, err := structpb.NewStruct(encodeResponse(resp, s.resolver.Engine().Table().Version()))
	if err != nil {
		s.logger.Error("encode response failed", zap.Error(err))
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func (s *ResolverServer) authenticate(ctx context.Context) (*auth.ProjectContext, error) {
	key, err := auth.KeyFromMetadata(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	project, err := s.auth.AuthenticateKey(ctx, key)
	switch {
	case errors.Is(err, auth.ErrAuthUnavailable):
		return nil, status.Errorf(codes.Unavailable, "auth failed: %v", err)
	case err != nil:
		return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	return project, nil
}

func decodeRequest(req *structpb.Struct) (service.Request, error) {
	out := service.Request{Source: "grpc"}
	fields := req.GetFields()

	if v, ok := fields["query"]; ok {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return out, status.Error(codes.InvalidArgument, "query must be a string")
		}
		out.Query = sv.StringValue
	}
	if v, ok := fields["settings"]; ok {
		switch k := v.GetKind().(type) {
		case *structpb.Value_StructValue:
			out.Settings = k.StructValue.AsMap()
		case *structpb.Value_NullValue:
		default:
			return out, status.Error(codes.InvalidArgument, "settings must be an object")
		}
	}
	if v, ok := fields["include_content"]; ok {
		bv, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return out, status.Error(codes.InvalidArgument, "include_content must be a boolean")
		}
		out.IncludeContent = bv.BoolValue
	}
	return out, nil
}

// encodeResponse mirrors the HTTP response body using only types
// structpb.NewStruct accepts.
func encodeResponse(resp *service.Response, rulesVersion string) map[string]any {
	res := resp.Result
	docs := make([]any, len(resp.Documents))
	for i, d := range resp.Documents {
		doc := map[string]any{
			"id":                  d.Document.ID,
			"category":            d.Document.Category,
			"score":               d.Score,
			"source_rule":         d.SourceRule,
			"needs_clarification": d.NeedsClarification,
		}
		if d.Found {
			doc["title"] = d.Title
			doc["content"] = d.Content
		}
		docs[i] = doc
	}
	missing := make([]any, len(res.MissingSignals))
	for i, m := range res.MissingSignals {
		missing[i] = m
	}
	var question any
	if res.ClarifyingQuestion != "" {
		question = res.ClarifyingQuestion
	}

	return map[string]any{
		"request_id":          resp.RequestID,
		"documents":           docs,
		"category":            res.Category,
		"contract_status":     res.ContractStatus.String(),
		"clarifying_question": question,
		"missing_signals":     missing,
		"confidence":          res.Confidence.String(),
		"ambiguous":           res.Ambiguous,
		"rules_version":       rulesVersion,
		"latency_ms":          resp.LatencyMs,
	}
}
