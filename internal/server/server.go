// Package server implements the gateway's HTTP server and S3-compatible route multiplexer.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bleepstore/mantagw/internal/auth"
	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/config"
	"github.com/bleepstore/mantagw/internal/gateway"
	"github.com/bleepstore/mantagw/internal/metrics"
	"github.com/bleepstore/mantagw/internal/s3err"
	"github.com/bleepstore/mantagw/internal/xmlutil"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the gateway's HTTP server. It routes incoming requests to the
// appropriate S3-compatible gateway operation based on the request method
// and query parameters.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	gw         *gateway.Gateway
	verifier   *auth.SigV4Verifier
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server wired to the given backing-store client. The
// gateway owns no state of its own (spec.md §3): every fact about a bucket
// or object is read back from bs on each request, so no metadata store or
// clustering layer is constructed here.
func New(cfg *config.Config, bs bsclient.Client) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("mantagw S3 Gateway API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	xmlRenderer := xmlutil.New(cfg.Gateway.S3Version, cfg.Gateway.PrettyPrint)

	ownerID := cfg.Auth.AccessKey
	ownerDisplay := cfg.Auth.AccessKey
	if ownerID == "" {
		ownerID = "anonymous"
		ownerDisplay = "anonymous"
	}

	gw := gateway.New(bs, cfg.Gateway, xmlRenderer, ownerID, ownerDisplay)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		gw:     gw,
	}

	// Auth is only enforced when a credential pair is configured; an empty
	// access key disables request signing, matching the teacher's
	// conditional-auth pattern but without the metadata-store precondition.
	if cfg.Auth.AccessKey != "" {
		s.verifier = auth.NewSigV4Verifier(cfg.Auth.AccessKey, cfg.Auth.SecretKey, cfg.Server.Region, ownerID, ownerDisplay)
	}

	s.registerRoutes()
	return s, nil
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
// Middleware chain: metricsMiddleware -> commonHeaders -> transferEncodingCheck -> authMiddleware -> metadataHeaderMiddleware -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	// Rewrite x-amz-meta-* headers to lowercase (must be innermost wrapper).
	handler = metadataHeaderMiddleware(handler)
	// Wrap with auth middleware if verifier is available.
	if s.verifier != nil {
		handler = auth.Middleware(s.verifier, s.gw.XML)(handler)
	}
	handler = transferEncodingCheck(s.gw.XML)(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
// Huma routes (/healthz, /docs, /openapi.json) and /metrics are registered
// first. The S3 catch-all /* is registered last. Chi matches more specific
// routes first.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns the health status of the gateway.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register HEAD /healthz separately (Huma only does one method per registration).
	s.router.Head("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	// S3 catch-all: all remaining requests go through the dispatch function.
	s.router.HandleFunc("/*", s.dispatch)
}

// dispatch is the main request dispatcher. It parses the path to extract
// bucket and object key, then routes by HTTP method and query parameters
// across the operations spec.md §6's HTTP surface table names. Anything
// outside that surface (multipart mutation, bulk delete, ListObjectsV2,
// bucket location) is out of scope and answered with NotImplemented.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	bucket, key := parsePath(r.URL.Path)
	q := r.URL.Query()

	// Service-level operations (no bucket in path).
	if bucket == "" {
		switch r.Method {
		case http.MethodGet:
			s.call("ListBuckets", s.gw.ListBuckets, w, r)
		default:
			s.gw.XML.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
		return
	}

	// Object-level operations (bucket + key in path).
	if key != "" {
		switch r.Method {
		case http.MethodPut:
			switch {
			case r.Header.Get("X-Amz-Copy-Source") != "":
				s.call("CopyObject", s.gw.CopyObject, w, r)
			case q.Has("acl"):
				s.call("PutAcl", s.gw.PutAcl, w, r)
			case q.Has("uploadId"):
				s.gw.XML.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			default:
				s.call("PutObject", s.gw.PutObject, w, r)
			}
		case http.MethodGet:
			switch {
			case q.Has("acl"):
				s.call("GetAcl", s.gw.GetAcl, w, r)
			default:
				s.call("GetObject", s.gw.GetObject, w, r)
			}
		case http.MethodHead:
			s.call("HeadObject", s.gw.HeadObject, w, r)
		case http.MethodDelete:
			if q.Has("uploadId") {
				s.gw.XML.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
			} else {
				s.call("DeleteObject", s.gw.DeleteObject, w, r)
			}
		default:
			s.gw.XML.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		}
		return
	}

	// Bucket-level operations (bucket in path, no key).
	switch r.Method {
	case http.MethodPut:
		if q.Has("acl") {
			s.call("PutAcl", s.gw.PutAcl, w, r)
		} else {
			s.call("CreateBucket", s.gw.CreateBucket, w, r)
		}
	case http.MethodGet:
		switch {
		case q.Has("acl"):
			s.call("GetAcl", s.gw.GetAcl, w, r)
		case q.Has("uploads"):
			s.call("ListMultipartUploads", s.gw.ListMultipartUploads, w, r)
		case q.Has("list-type"), q.Has("location"):
			s.gw.XML.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
		default:
			s.call("ListObjects", s.gw.ListObjects, w, r)
		}
	case http.MethodHead:
		s.call("HeadBucket", s.gw.HeadBucket, w, r)
	case http.MethodDelete:
		s.call("DeleteBucket", s.gw.DeleteBucket, w, r)
	default:
		s.gw.XML.WriteErrorResponse(w, r, s3err.ErrNotImplemented)
	}
}

// call invokes a gateway operation and records its outcome in
// S3OperationsTotal, classifying any response status >= 400 as an error.
// It wraps w in its own responseRecorder rather than assuming the
// metricsMiddleware recorder is the concrete type reaching dispatch, since
// metadataHeaderMiddleware interposes its own wrapper closer to the
// handler.
func (s *Server) call(operation string, h func(http.ResponseWriter, *http.Request), w http.ResponseWriter, r *http.Request) {
	rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	h(rec, r)

	var err error
	if rec.statusCode >= http.StatusBadRequest {
		err = fmt.Errorf("status %d", rec.statusCode)
	}
	metrics.RecordS3Operation(operation, err)
}

// parsePath extracts bucket and object key from the request path.
// Returns ("", "") for root "/", ("bucket", "") for "/{bucket}",
// and ("bucket", "key/path") for "/{bucket}/{key...}".
func parsePath(path string) (bucket, key string) {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return "", ""
	}
	idx := -1
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}
