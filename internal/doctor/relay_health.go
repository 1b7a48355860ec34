package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const relayHealthTimeout = 2 * time.Second

// checkRelayHealth queries the standard gRPC health service the relay
// exposes next to its websocket endpoint.
func checkRelayHealth(ctx context.Context, target string) Check {
	ctx, cancel := context.WithTimeout(ctx, relayHealthTimeout)
	defer cancel()

	status, err := relayHealth(ctx, target)
	if err != nil {
		return Check{Name: "relay.health", Pass: false, Message: err.Error()}
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return Check{Name: "relay.health", Pass: false, Message: fmt.Sprintf("%s reports %s", target, status)}
	}
	return Check{Name: "relay.health", Pass: true, Message: fmt.Sprintf("serving at %s", target)}
}

func relayHealth(ctx context.Context, target string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	conn.Connect()
	if err := waitForReady(ctx, conn); err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("connect %s: %w", target, err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", target, err)
	}
	return resp.GetStatus(), nil
}

// waitForReady blocks until the connection is Ready or ctx expires.
func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return fmt.Errorf("still %s: %w", state, ctx.Err())
			}
			return fmt.Errorf("grpc readiness wait ended in state %s", state)
		}
	}
}
