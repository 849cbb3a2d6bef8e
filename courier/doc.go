// Package courier provides a client-side HTTP execution engine with a
// unified request model, an ordered hook pipeline, and a closed error
// taxonomy, with OpenTelemetry instrumentation built in.
//
// # Features
//
//   - Immutable value-type request parameters with pluggable bodies
//     (raw bytes, form data, structured JSON)
//   - Pre-request hooks that rewrite parameters and post-request hooks
//     that inspect responses and decide what happens next (continue,
//     complete, or dispatch a replacement request)
//   - Three consumption styles over one engine: blocking (Do), callback
//     (DoAsync), and a cancellable stream handle (DoStream)
//   - Per-request progress and incremental-chunk observation
//   - A closed failure classification (connectivity, cancellation,
//     timeout, transport, invalid URL, empty response, decoding)
//   - Request coalescing, rate limiting and circuit breaking
//   - OpenTelemetry tracing and metrics, zerolog debug output with cURL
//     reproduction commands
//
// # Quick Start
//
//	client := courier.New(
//	    courier.WithPreHooks(courier.BearerAuthHook(token)),
//	    courier.WithServiceName("billing"),
//	)
//
//	// Simple GET request
//	resp, err := client.Get(ctx, "https://api.example.com/users")
//
//	// POST with structured body and response decoding
//	var user User
//	p := courier.NewParams(courier.POST, "https://api.example.com/users")
//	resp, err := client.Exchange(ctx, p, newUser, &user)
//
// # Hooks
//
// Pre-request hooks run in order and fold over the parameters; the last
// hook's output is what dispatches. Post-request hooks run in order
// against the latest response and return a Decision:
//
//	refresh := courier.RefreshOn401Hook(func(p courier.Params) (courier.Params, error) {
//	    token, err := renewToken(p)
//	    if err != nil {
//	        return p, err
//	    }
//	    return p.WithHeader("Authorization", "Bearer "+token), nil
//	})
//
//	client := courier.New(courier.WithPostHooks(refresh))
//
// # Streaming and Cancellation
//
// DoStream returns a handle that can abandon the request mid-flight:
//
//	s := client.DoStream(ctx, p, courier.WithChunks(write))
//	...
//	s.Cancel()
//	_, err := s.Wait() // KindCancelled
//
// # Errors
//
// Transport-level failures surface as *Error with a Kind from the closed
// taxonomy; hook and body-encoding errors pass through unmodified. Use
// KindOf to branch on classification:
//
//	if kind, ok := courier.KindOf(err); ok && kind == courier.KindCancelled {
//	    return nil // caller abandoned the request
//	}
package courier
