package ml

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScorerServer implements the Predict side of the channel.
type ScorerServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var scorerDesc = grpc.ServiceDesc{
	ServiceName: "ml.Scorer",
	HandlerType: (*ScorerServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Predict",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(ScorerServer).Predict(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return srv.(ScorerServer).Predict(ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}},
	Metadata: "ml/scorer",
}

// RegisterScorerServer exposes srv on s under /ml.Scorer/Predict.
func RegisterScorerServer(s *grpc.Server, srv ScorerServer) {
	s.RegisterService(&scorerDesc, srv)
}

// Reply builds a response struct for a request id.
func Reply(id string, class int, probabilities []float64) (*structpb.Struct, error) {
	probs := make([]any, len(probabilities))
	for i, p := range probabilities {
		probs[i] = p
	}
	return structpb.NewStruct(map[string]any{
		"id":              id,
		"predicted_class": class,
		"probabilities":   probs,
	})
}
