/*
Package api serves the agent's local introspection surface.

Two listeners are started by "promagent run":

	HTTP (default 127.0.0.1:9465)
	  GET /health     aggregated component health (200 unless a critical component failed)
	  GET /ready      200 once the store and reconciler report healthy
	  GET /live       200 while the process runs
	  GET /status     reconciler.Status as JSON, or YAML with ?format=yaml
	  GET /endpoint   {"url": ...}, the address peers use to reach the daemon
	  GET /metrics    promagent_* and Go runtime metrics

	gRPC (default 127.0.0.1:9466)
	  grpc.health.v1.Health
	    ""                  SERVING while the agent runs
	    "promagent.Daemon"  SERVING while the last cycle left the daemon converged

Every HTTP endpoint except /metrics rejects non-GET methods. Requests on both
listeners are counted in promagent_api_requests_total by path (or full gRPC
method) and status.

The surface is read-only. Cycles are only triggered by events, never by an
API call.

# Example

	hs := api.NewHealthServer(rec)
	go func() {
		if err := hs.Start(cfg.APIAddress); err != nil {
			logger.Error().Err(err).Msg("HTTP API failed")
		}
	}()

	gs := api.NewServer()
	go func() { _ = gs.Start(cfg.GRPCAddress) }()

	rec.Loop(ctx, sub, func(res *reconciler.Result, err error) {
		gs.SetConverged(err == nil)
	})

Probing from the host:

	curl -s localhost:9465/status?format=yaml
	grpc_health_probe -addr=localhost:9466 -service=promagent.Daemon
*/
package api
