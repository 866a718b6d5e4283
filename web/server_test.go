package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/troupelabs/troupe/actor"
)

// echoBehavior serves greeting requests and fails on demand.
type echoBehavior struct {
	ctx    *actor.Context[*echoBehavior]
	served int
}

// greetRequest is the immutable record decoded from the wire.
type greetRequest struct {
	Name string `json:"name"`
}

// greetResponse is the reply encoded back to the client.
type greetResponse struct {
	Greeting string `json:"greeting"`
	Served   int    `json:"served"`
}

func (b *echoBehavior) greet(req greetRequest) (greetResponse, error) {
	if req.Name == "" {
		return greetResponse{}, fmt.Errorf("name must not be empty")
	}

	b.served++

	return greetResponse{
		Greeting: "Hello " + req.Name,
		Served:   b.served,
	}, nil
}

// startTestServer runs an echo actor behind a Server on an ephemeral port
// and returns its base URL plus a stop function that waits for quiescence.
func startTestServer(t *testing.T) (string, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	echo := actor.New[*echoBehavior](actor.WithName("echo")).
		Behavior(func(
			actorCtx *actor.Context[*echoBehavior],
		) *echoBehavior {
			return &echoBehavior{ctx: actorCtx}
		}).
		OnSignal(func(sig actor.Signal, hctx *actor.HandlerContext) {
			// Terminate on any signal; the test only stops via
			// context cancellation.
		})

	srv := NewServer("127.0.0.1:0")
	Route(srv, "POST /v1/greet", echo,
		func(b *echoBehavior, req greetRequest) (greetResponse, error) {
			return b.greet(req)
		})

	runDone := make(chan error, 1)
	go func() {
		runDone <- actor.Run(
			ctx, []actor.Ref{echo},
			func(sctx *actor.StartContext) {
				if err := srv.Serve(ctx, sctx); err != nil {
					t.Errorf("Serve failed: %v", err)
				}
			},
		)
	}()

	select {
	case <-srv.Ready():

	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	stop := func() {
		cancel()

		select {
		case err := <-runDone:
			require.ErrorIs(t, err, context.Canceled)

		case <-time.After(5 * time.Second):
			t.Fatal("run never reached quiescence")
		}
	}

	return "http://" + srv.Addr(), stop
}

// TestServerRoutesRequestToActor tests the full path: JSON in, closure
// through the ingress pump, behavior invocation, JSON out. Two sequential
// requests prove the behavior's state advances.
func TestServerRoutesRequestToActor(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	for i := 1; i <= 2; i++ {
		body, err := json.Marshal(greetRequest{Name: "world"})
		require.NoError(t, err)

		resp, err := http.Post(
			baseURL+"/v1/greet", "application/json",
			bytes.NewReader(body),
		)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, resp.StatusCode)

		var decoded greetResponse
		require.NoError(
			t, json.NewDecoder(resp.Body).Decode(&decoded),
		)
		require.NoError(t, resp.Body.Close())

		require.Equal(t, "Hello world", decoded.Greeting)
		require.Equal(t, i, decoded.Served,
			"behavior state should advance per request")
	}
}

// TestServerRejectsMalformedBody tests that undecodable payloads are
// rejected before any closure is posted.
func TestServerRejectsMalformedBody(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	resp, err := http.Post(
		baseURL+"/v1/greet", "application/json",
		bytes.NewReader([]byte(`{"name": 42`)),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestServerSurfacesHandlerError tests that a behavior-level error becomes
// an HTTP error response.
func TestServerSurfacesHandlerError(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	body, err := json.Marshal(greetRequest{Name: ""})
	require.NoError(t, err)

	resp, err := http.Post(
		baseURL+"/v1/greet", "application/json",
		bytes.NewReader(body),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(payload), "name must not be empty")
}

// TestServerHealthEndpoint tests the built-in health route.
func TestServerHealthEndpoint(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	resp, err := http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(payload))
}
