package router

import "context"

// Route kinds.
type Kind string

// Kinds of routing decision.
const (
	KindPrimary   Kind = "primary"   // project channel -> project window
	KindThread    Kind = "thread"    // existing thread pane
	KindFallback  Kind = "fallback"  // thread provisioning underway -> project window
	KindProvision Kind = "provision" // new thread pane
	KindDirect    Kind = "direct"    // button answer
	KindTeardown  Kind = "teardown"  // thread archived
)

// Outcome is the result of a delivery once its lane job has run.
type Outcome struct {
	// Target is the tmux target the text was sent to.
	Target string
	// Fallback is set when the text went to the project window instead of
	// the intended thread pane.
	Fallback bool
	Err      error
}

// Delivery tracks one routed message through its lane.
type Delivery struct {
	Kind     Kind
	ThreadID string
	ParentID string

	done    chan struct{}
	outcome Outcome
}

func newDelivery(kind Kind, threadID, parentID string) *Delivery {
	return &Delivery{Kind: kind, ThreadID: threadID, ParentID: parentID, done: make(chan struct{})}
}

func (d *Delivery) finish(o Outcome) {
	d.outcome = o
	close(d.done)
}

// Done is closed once the delivery has completed.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until the delivery completes or ctx ends.
func (d *Delivery) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-d.done:
		return d.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
