package main

import (
	"context"
	"fmt"

	btclog "github.com/btcsuite/btclog/v2"

	"github.com/troupelabs/troupe/actor"
)

// GreetRequest is the immutable record decoded from a greet call.
type GreetRequest struct {
	Name string `json:"name"`
}

// GreetResponse is the greeter's reply.
type GreetResponse struct {
	Greeting string `json:"greeting"`
	Served   int    `json:"served"`
}

// Greeter serves greetings and keeps a tally; all state lives in the
// behavior and is only ever touched by the greeter actor's task.
type Greeter struct {
	ctx    *actor.Context[*Greeter]
	served int
}

// Greet formats a greeting for the request.
func (g *Greeter) Greet(req GreetRequest) (GreetResponse, error) {
	if req.Name == "" {
		return GreetResponse{}, fmt.Errorf("name must not be empty")
	}

	g.served++

	return GreetResponse{
		Greeting: "Hello " + req.Name,
		Served:   g.served,
	}, nil
}

// CountRequest is the immutable record decoded from a count call.
type CountRequest struct {
	Amount int `json:"amount"`
}

// CountResponse carries the updated running total.
type CountResponse struct {
	Total int `json:"total"`
}

// Counter keeps a running total.
type Counter struct {
	ctx   *actor.Context[*Counter]
	total int
}

// Add folds amount into the total. Negative amounts are rejected.
func (c *Counter) Add(req CountRequest) (CountResponse, error) {
	if req.Amount < 0 {
		return CountResponse{}, fmt.Errorf("amount must not be "+
			"negative, got %d", req.Amount)
	}

	c.total += req.Amount

	return CountResponse{Total: c.total}, nil
}

// logActorSignal records a supervision signal in the daemon log.
func logActorSignal(log btclog.Logger, ctx context.Context, name string,
	sig actor.Signal,
) {
	switch s := sig.(type) {
	case actor.PanicSignal:
		log.WarnS(ctx, "Actor panicked, shutting down", s.Err,
			"actor", name)

	case actor.ShutdownSignal:
		log.DebugS(ctx, "Actor shut down", "actor", name)
	}
}
