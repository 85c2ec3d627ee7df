// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

/*
Package supervisor runs ShadowCheck's long-lived services under a suture
supervisor tree.

The tree has three layers so a failing service only restarts its own
branch:

	shadowcheck (root)
	├── data-layer      journal maintenance
	├── analysis-layer  scheduled analysis runs
	└── api-layer       read API HTTP server

Supervisor events are logged through sutureslog on top of the zerolog
slog adapter from internal/logging:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAnalysisService(services.NewAnalysisService(sched))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)

Service wrappers live in the services subpackage.
*/
package supervisor
