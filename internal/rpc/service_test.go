package rpc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

func echoService() Service {
	return Service{
		Package: "gohome.test.v1",
		Name:    "EchoService",
		Methods: []Method{
			{Name: "Echo", Handler: func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return structpb.NewStruct(map[string]any{"echo": String(req, "message")})
			}},
			{Name: "Fail", Handler: func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(codes.NotFound, "nope")
			}},
		},
	}
}

func dial(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	register(server)
	reflection.Register(server)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRegisterAndInvoke(t *testing.T) {
	svc := echoService()
	conn := dial(t, func(s *grpc.Server) { MustRegister(s, svc) })

	resp, err := Invoke(context.Background(), conn, svc.MethodPath("Echo"), map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if got := String(resp, "echo"); got != "hi" {
		t.Fatalf("unexpected echo %q", got)
	}

	_, err = Invoke(context.Background(), conn, svc.MethodPath("Fail"), nil)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDescriptorIsRegistered(t *testing.T) {
	svc := echoService()
	if err := registerDescriptor(svc); err != nil {
		t.Fatalf("registerDescriptor: %v", err)
	}
	// Registering twice is a no-op.
	if err := registerDescriptor(svc); err != nil {
		t.Fatalf("second registerDescriptor: %v", err)
	}

	desc, err := protoregistry.GlobalFiles.FindDescriptorByName("gohome.test.v1.EchoService")
	if err != nil {
		t.Fatalf("service not in registry: %v", err)
	}
	if desc.FullName() != "gohome.test.v1.EchoService" {
		t.Fatalf("unexpected descriptor %s", desc.FullName())
	}
}

func TestIntArgument(t *testing.T) {
	req, _ := structpb.NewStruct(map[string]any{"a": 42.0, "b": "17", "c": 1.5, "d": "x"})
	if n, ok, err := Int(req, "a"); err != nil || !ok || n != 42 {
		t.Fatalf("a: %d %v %v", n, ok, err)
	}
	if n, ok, err := Int(req, "b"); err != nil || !ok || n != 17 {
		t.Fatalf("b: %d %v %v", n, ok, err)
	}
	if _, _, err := Int(req, "c"); err == nil {
		t.Fatalf("expected error for fractional value")
	}
	if _, _, err := Int(req, "d"); err == nil {
		t.Fatalf("expected error for non-numeric string")
	}
	if _, ok, _ := Int(req, "missing"); ok {
		t.Fatalf("missing should not be present")
	}
}
