// Package router schedules signals across the layered topology.
//
// A fixed pool of workers takes nodes off a ready ring in round-robin order,
// processes one envelope from the node's inbox, and routes the resulting
// emissions to adjacent layers. A node is handled by one worker at a time so
// its inbox is processed in arrival order, while distinct nodes run in
// parallel.
//
// Every external submission is tracked until all of its copies have been
// completed, absorbed, expired or dropped. The aggregate Result is available
// through Await and the OnResult hook.
//
// Lifecycle:
//
//	r := router.New(topo)
//	if err := r.Start(ctx); err != nil { ... }
//	id, err := r.Submit(ctx, "entry", []byte("payload"))
//	res, err := r.Await(ctx, id)
//	_ = r.Shutdown(ctx)
package router
