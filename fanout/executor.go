// Package fanout runs one data source's NodeQuery against every node in
// a PartialNodeUpdate, bounded in concurrency and deadline, aggregating
// per-node failures without letting any single node's failure abort the
// rest of the run.
//
// Concurrency is bounded with golang.org/x/sync/semaphore rather than
// golang.org/x/sync/errgroup: errgroup cancels the group's context on
// the first error returned by any goroutine, which is exactly wrong
// here — a fan-out across N nodes must be best-effort, so one node's
// 500 can never stop the other N-1 from completing.
package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/nodefleet/dsengine/apperr"
	"github.com/nodefleet/dsengine/datasource"
	"github.com/nodefleet/dsengine/interpolate"
	"github.com/nodefleet/dsengine/logging"
	"github.com/nodefleet/dsengine/nodequery"
	"golang.org/x/sync/semaphore"
)

// NodeWriter persists (or clears) one node's property. It is the
// engine's external collaborator for node storage, mirroring how
// httpfetch and the repository interface are both kept outside this
// package's concerns.
type NodeWriter interface {
	// Write sets the node's property to property.Property.Value. If
	// property.Present is false, Write must be a no-op (NoChange policy).
	// An empty Value with Present true means "clear the property"
	// (Delete policy or an empty JsonSelect result).
	Write(ctx context.Context, nodeID string, property nodequery.Result) error
}

// Executor runs one fan-out.
type Executor struct {
	Runner *nodequery.Runner
	Writer NodeWriter
	Logger logging.Logger
	Sem    *semaphore.Weighted
}

// NewExecutor builds an Executor bounded to maxInFlight concurrent node
// queries.
func NewExecutor(runner *nodequery.Runner, writer NodeWriter, logger logging.Logger, maxInFlight int64) *Executor {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Executor{
		Runner: runner,
		Writer: writer,
		Logger: logger,
		Sem:    semaphore.NewWeighted(maxInFlight),
	}
}

// Run executes one fan-out for ds against work, returning the set of
// node ids whose property was written and a non-nil error (an
// *apperr.Chain) if any node failed. A write that already completed
// before the deadline or a cancellation fires stands; Run never rolls
// writes back.
func (e *Executor) Run(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error) {
	if ds.HTTP.RequestMode.Kind == datasource.RequestModeAllNodes {
		return nil, apperr.New("fanout.Run", apperr.KindConfig, ds.ID, apperr.ErrNotImplemented)
	}

	ctx, cancel := context.WithTimeout(ctx, ds.UpdateTimeout)
	defer cancel()

	params := make(map[string]string, len(work.Parameters))
	for _, p := range work.Parameters {
		params[p.Name] = p.Value
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated = make(map[string]bool)
		chain   = apperr.NewChain()
	)

	for nodeID, node := range work.Nodes {
		nodeID, node := nodeID, node

		ps, ok := work.PolicyServers[node.PolicyServerID]
		if !ok {
			mu.Lock()
			chain.Add(apperr.New("fanout.Run", apperr.KindConfig, nodeID, apperr.ErrPolicyServer))
			mu.Unlock()
			continue
		}

		if err := e.Sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			chain.Add(apperr.New("fanout.Run", apperr.KindDeadline, nodeID, apperr.ErrDeadlineExceeded))
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.Sem.Release(1)

			if err := e.runNode(ctx, ds, nodeID, node, ps, params, &mu, updated); err != nil {
				mu.Lock()
				chain.Add(err)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return updated, chain.ErrOrNil()
}

func (e *Executor) runNode(
	ctx context.Context,
	ds datasource.DataSource,
	nodeID string,
	node, policyServer datasource.NodeInfo,
	params map[string]string,
	mu *sync.Mutex,
	updated map[string]bool,
) error {
	ictx := interpolate.Context{Node: node, PolicyServer: policyServer, Parameters: params}

	result, err := e.Runner.Run(ctx, ds.ID, ds.HTTP, ictx)
	if err != nil {
		e.Logger.Error("fanout: node query failed", map[string]interface{}{
			"source": ds.ID, "node": nodeID, "error": err.Error(),
		})
		kind := apperr.KindHTTP
		var ae *apperr.Error
		if errors.As(err, &ae) {
			kind = ae.Kind
		}
		return apperr.New("fanout.runNode", kind, nodeID, err)
	}

	if !result.Present {
		return nil
	}

	if err := e.Writer.Write(ctx, nodeID, result); err != nil {
		return apperr.New("fanout.runNode", apperr.KindWrite, nodeID, err)
	}

	mu.Lock()
	updated[nodeID] = true
	mu.Unlock()
	return nil
}
