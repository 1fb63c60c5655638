// Package identity talks to the auth and user services over gRPC. The
// upstream services expose loosely-typed internal endpoints, so calls go
// through Struct payloads on the shared proto codec rather than generated
// stubs.
package identity

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	authValidateMethod = "/auth.AuthService/ValidateToken"
	userBulkMethod     = "/user.UserInternal/BulkUsers"
)

// Dial opens an instrumented client connection to an identity service.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
}

// AuthClient wraps the auth-service connection.
type AuthClient struct {
	conn *grpc.ClientConn
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn *grpc.ClientConn) *AuthClient {
	return &AuthClient{conn: conn}
}

// ValidateToken verifies the JWT and returns the authenticated user id.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (int, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"token": token})
	if err != nil {
		return 0, err
	}
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, authValidateMethod, req, resp); err != nil {
		return 0, fmt.Errorf("auth-service: %w", err)
	}

	fields := resp.GetFields()
	userID := int(fields["user_id"].GetNumberValue())
	if !fields["valid"].GetBoolValue() || userID == 0 {
		return 0, errors.New("invalid token")
	}
	return userID, nil
}

// Ready probes the auth-service health endpoint.
func (a *AuthClient) Ready(ctx context.Context) error {
	resp, err := grpc_health_v1.NewHealthClient(a.conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("auth-service not serving: %s", resp.GetStatus())
	}
	return nil
}

// UserClient wraps the user-service connection.
type UserClient struct {
	conn *grpc.ClientConn
}

// NewUserClient constructs the wrapper.
func NewUserClient(conn *grpc.ClientConn) *UserClient {
	return &UserClient{conn: conn}
}

// Usernames fetches display names for a set of user ids in one call.
// Unknown ids are simply absent from the result.
func (u *UserClient) Usernames(ctx context.Context, ids []int) (map[int]string, error) {
	if len(ids) == 0 {
		return map[int]string{}, nil
	}

	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}
	req, err := structpb.NewStruct(map[string]interface{}{"ids": values})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := u.conn.Invoke(ctx, userBulkMethod, req, resp); err != nil {
		return nil, fmt.Errorf("user-service: %w", err)
	}

	names := map[int]string{}
	for _, entry := range resp.GetFields()["users"].GetListValue().GetValues() {
		user := entry.GetStructValue().GetFields()
		id := int(user["id"].GetNumberValue())
		if id != 0 {
			names[id] = user["username"].GetStringValue()
		}
	}
	return names, nil
}
