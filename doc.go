// Package reqflow is a resilient request execution core: the admission,
// retry, caching and credential-coordination engine that sits between
// application call sites and a raw transport. It provides:
//
//   - Concurrency-bounded admission with priority ordering (FIFO within a band)
//   - Classification-driven retries with exponential backoff + jitter
//   - Content-addressed response caching with freshness and conditional revalidation
//   - Single-flight credential refresh shared by all in-flight operations
//   - Dependency-graph execution with partial-failure semantics
//   - Circuit breaking and client-side rate limiting on the dispatch path
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - No process-wide mutable state: every component is constructed and injected
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Scheduler instance
//   - The transport, session and serialization layers stay outside: reqflow
//     decides when, how many times, with what delay, from what cached state and
//     under what credential an operation executes, never what bytes it carries
//
// Typical usage:
//
//	sched := reqflow.New(
//	    reqflow.NewHTTPTransport(nil),
//	    reqflow.WithMaxConcurrent(8),
//	    reqflow.WithMemoryCache(64<<20),
//	    reqflow.WithRetryPolicy(reqflow.NewDefaultRetryPolicy(4, 100*time.Millisecond, 10*time.Second, 0.1)),
//	)
//	op, _ := reqflow.NewOperation("GET", "https://api.example.com/data")
//	res, err := sched.Submit(ctx, op).Wait(ctx)
//
// Credentialed traffic adds a Session and every operation built with
// WithCredential flows through the TokenCoordinator; dependent request chains
// are expressed as a Graph and handed to an Orchestrator.
package reqflow
