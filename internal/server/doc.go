// Package server wires the Fiber application in front of the image pipeline:
// request-id and CORS middleware, the catch-all route that recovers the
// variant and origin URL from the request path, error-to-status mapping, and
// the shared upstream http.Client used by both the fetcher and the rescale
// client. It deliberately contains no caching or retry logic; that lives in
// the pipeline package.
package server
