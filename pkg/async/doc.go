// Package async runs background and batched work with panic recovery and
// per-task timeouts.
//
// SafeGo is for fire-and-forget work such as an update-all run triggered over
// HTTP. WorkerPool runs submitted tasks on a fixed number of workers. Batch and
// Map fan a slice out over a pool; Map keeps results in input order:
//
//	results := async.Map(ctx, ids, 4, "update", 10*time.Minute, func(ctx context.Context, id string) UpdateResult {
//		return orchestrator.Update(ctx, id)
//	})
package async
