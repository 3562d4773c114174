package server

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/kurt/compiler"
	"github.com/chazu/kurt/vm"
)

// ServiceName is the fully qualified RPC service name shared by the
// connect and gRPC transports.
const ServiceName = "kurt.v1.EvalService"

// Method names.
const (
	MethodEval           = "Eval"
	MethodCheck          = "Check"
	MethodDisassemble    = "Disassemble"
	MethodCreateSession  = "CreateSession"
	MethodDestroySession = "DestroySession"
	MethodListGlobals    = "ListGlobals"
)

// Procedure returns the HTTP path of a method, e.g.
// /kurt.v1.EvalService/Eval.
func Procedure(method string) string {
	return "/" + ServiceName + "/" + method
}

// method handles one RPC. Messages are google.protobuf.Struct so that the
// service needs no generated code; the JSON form of a request is a plain
// object such as {"source": "1 + 2", "session": "s-1"}.
type method func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func (s *EvalService) methods() map[string]method {
	return map[string]method{
		MethodEval:           s.rpcEval,
		MethodCheck:          s.rpcCheck,
		MethodDisassemble:    s.rpcDisassemble,
		MethodCreateSession:  s.rpcCreateSession,
		MethodDestroySession: s.rpcDestroySession,
		MethodListGlobals:    s.rpcListGlobals,
	}
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func requiredField(req *structpb.Struct, name string) (string, error) {
	v := stringField(req, name)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	return v, nil
}

func (s *EvalService) rpcEval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	src, err := requiredField(req, "source")
	if err != nil {
		return nil, err
	}
	res, err := s.Eval(ctx, stringField(req, "session"), src)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"success": res.OK(),
		"output":  res.Output,
		"steps":   res.Steps,
	}
	switch {
	case len(res.Diagnostics) > 0:
		fields["diagnostics"] = diagnosticList(res.Diagnostics)
	case res.Runtime != nil:
		fields["error"] = runtimeErrorFields(res.Runtime)
	default:
		fields["value"] = res.Value
		fields["kind"] = res.Kind
		fields["hash"] = res.Hash
	}
	return structpb.NewStruct(fields)
}

func (s *EvalService) rpcCheck(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res := s.Check(stringField(req, "source"))
	warnings := make([]any, len(res.Warnings))
	for i, w := range res.Warnings {
		warnings[i] = map[string]any{
			"message": w.Message,
			"line":    w.Span.Start.Line,
			"column":  w.Span.Start.Column,
		}
	}
	return structpb.NewStruct(map[string]any{
		"valid":       len(res.Diagnostics) == 0,
		"diagnostics": diagnosticList(res.Diagnostics),
		"warnings":    warnings,
	})
}

func (s *EvalService) rpcDisassemble(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	src, err := requiredField(req, "source")
	if err != nil {
		return nil, err
	}
	text, diags, err := s.Disassemble(src)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"listing":     text,
		"diagnostics": diagnosticList(diags),
	})
}

func (s *EvalService) rpcCreateSession(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"session": s.CreateSession(stringField(req, "name")),
	})
}

func (s *EvalService) rpcDestroySession(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredField(req, "session")
	if err != nil {
		return nil, err
	}
	if err := s.DestroySession(id); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"destroyed": true})
}

func (s *EvalService) rpcListGlobals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requiredField(req, "session")
	if err != nil {
		return nil, err
	}
	names, err := s.SessionGlobals(ctx, id)
	if err != nil {
		return nil, err
	}
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return structpb.NewStruct(map[string]any{"globals": list})
}

func diagnosticList(diags compiler.Diagnostics) []any {
	out := make([]any, len(diags))
	for i, d := range diags {
		out[i] = map[string]any{
			"kind":    d.Kind.String(),
			"message": d.Message,
			"line":    d.Span.Start.Line,
			"column":  d.Span.Start.Column,
		}
	}
	return out
}

func runtimeErrorFields(err *vm.RuntimeError) map[string]any {
	frames := make([]any, len(err.Frames))
	for i, f := range err.Frames {
		frames[i] = map[string]any{
			"function": f.Function,
			"line":     f.Span.Start.Line,
			"column":   f.Span.Start.Column,
		}
	}
	return map[string]any{
		"message": err.Message,
		"line":    err.Span.Start.Line,
		"column":  err.Span.Start.Column,
		"frames":  frames,
	}
}
