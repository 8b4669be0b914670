// Package httputil holds the HTTP plumbing shared by the registry client, the
// installer and the management API.
//
// # Outbound requests
//
// Fetcher issues GETs with a per-request timeout and retries transient
// failures with linear backoff. Responses are classified into plugin failure
// kinds: 404 is not found, 429 (or 403 with an exhausted rate limit) is rate
// limited, 5xx and 408 are transient.
//
//	policy := httputil.NewRetryPolicy(httputil.RetryConfig{MaxAttempts: 3, Delay: time.Second})
//	fetcher := httputil.NewFetcher(httputil.NewClient(ctx, token), policy, 30*time.Second, log)
//	body, err := fetcher.Get(ctx, url)
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WritePluginError(w, err) // status from the error's kind
//
// # Middleware
//
//	handler := httputil.Chain(
//	    httputil.RequestIDMiddleware,
//	    httputil.LoggingMiddleware(log),
//	    httputil.RecoveryMiddleware(log),
//	)(router)
package httputil
