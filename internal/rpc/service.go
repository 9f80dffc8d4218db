// Package rpc registers unary gRPC services whose requests and responses are
// google.protobuf.Struct messages. Descriptors are built at runtime and added
// to the global registry so server reflection (and grpcurl) can see them.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structTypeName = ".google.protobuf.Struct"

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Method is a named unary method.
type Method struct {
	Name    string
	Handler Handler
}

// Service describes a Struct-in/Struct-out gRPC service.
type Service struct {
	Package string
	Name    string
	Methods []Method
}

// FullName is the fully qualified service name, e.g. "gohome.registry.v1.Registry".
func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

// FileName is the synthetic proto file path holding the service descriptor.
func (s Service) FileName() string {
	return strings.ReplaceAll(s.Package, ".", "/") + "/" + strings.ToLower(s.Name) + ".proto"
}

// MethodPath is the wire path used by clients: "/<service>/<method>".
func (s Service) MethodPath(method string) string {
	return "/" + s.FullName() + "/" + method
}

var registerMu sync.Mutex

// Register publishes the service descriptor and registers the handlers on server.
func Register(server *grpc.Server, svc Service) error {
	if err := registerDescriptor(svc); err != nil {
		return err
	}
	desc := serviceDesc(svc)
	server.RegisterService(&desc, struct{}{})
	return nil
}

// MustRegister is Register for startup paths.
func MustRegister(server *grpc.Server, svc Service) {
	if err := Register(server, svc); err != nil {
		panic(err)
	}
}

func registerDescriptor(svc Service) error {
	if svc.Package == "" || svc.Name == "" {
		return errors.New("rpc: service package and name are required")
	}

	registerMu.Lock()
	defer registerMu.Unlock()

	if _, err := protoregistry.GlobalFiles.FindFileByPath(svc.FileName()); err == nil {
		return nil
	}

	fdp := fileDescriptor(svc)
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("rpc: build descriptor for %s: %w", svc.FullName(), err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("rpc: register descriptor for %s: %w", svc.FullName(), err)
	}
	return nil
}

func fileDescriptor(svc Service) *descriptorpb.FileDescriptorProto {
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(svc.Methods))
	for _, m := range svc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       strPtr(m.Name),
			InputType:  strPtr(structTypeName),
			OutputType: strPtr(structTypeName),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       strPtr(svc.FileName()),
		Package:    strPtr(svc.Package),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     strPtr("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   strPtr(svc.Name),
			Method: methods,
		}},
	}
}

func serviceDesc(svc Service) grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: svc.FullName(),
		HandlerType: (*any)(nil),
		Metadata:    svc.FileName(),
	}
	for _, m := range svc.Methods {
		fullMethod := svc.MethodPath(m.Name)
		handler := m.Handler
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return handler(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
				return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
					return handler(ctx, req.(*structpb.Struct))
				})
			},
		})
	}
	return desc
}

// Invoke calls a Struct method on conn. method is "/<service>/<method>".
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func strPtr(s string) *string {
	return &s
}
