// Package gateway implements BucketOps and ObjectOps: the HTTP handlers
// that translate S3 requests into calls against a bsclient.Client, via
// internal/pathcodec and internal/metacodec. Grounded on the teacher's
// internal/handlers package (bucket.go, object.go, helpers.go), adapted to
// a stateless gateway with no local metadata store — every fact about a
// bucket or object is read back from the BS on each request.
package gateway

import (
	"strings"

	"github.com/bleepstore/mantagw/internal/bsclient"
	"github.com/bleepstore/mantagw/internal/config"
	"github.com/bleepstore/mantagw/internal/metacodec"
	"github.com/bleepstore/mantagw/internal/xmlutil"
)

// Gateway holds the dependencies BucketOps and ObjectOps handlers share:
// the BS client, the translation-engine configuration, and the XML
// renderer. One Gateway is constructed at startup and is safe for
// concurrent use by many in-flight requests.
type Gateway struct {
	BS     bsclient.Client
	Cfg    config.GatewayConfig
	DurMap metacodec.DurabilityMap
	XML    *xmlutil.Renderer

	OwnerID      string
	OwnerDisplay string
}

// New constructs a Gateway from its dependencies.
func New(bs bsclient.Client, cfg config.GatewayConfig, xmlRenderer *xmlutil.Renderer, ownerID, ownerDisplay string) *Gateway {
	return &Gateway{
		BS:  bs,
		Cfg: cfg,
		DurMap: metacodec.DurabilityMap{
			StorageClassToDurability: cfg.StorageClassToDurability,
			DurabilityToStorageClass: cfg.DurabilityToStorageClass,
			DefaultDurability:        cfg.DefaultDurability,
		},
		XML:          xmlRenderer,
		OwnerID:      ownerID,
		OwnerDisplay: ownerDisplay,
	}
}

// bucketDir returns the BS path for bucket B.
func (g *Gateway) bucketDir(bucket string) string {
	return strings.TrimSuffix(g.Cfg.BucketPath, "/") + "/" + bucket
}

// parsePath splits an HTTP request path into (bucket, key), mirroring the
// teacher's server.parsePath: "/" -> ("",""), "/{B}" -> ("B",""),
// "/{B}/{K...}" -> ("B","K...").
func parsePath(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", ""
	}
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return path, ""
	}
	return path[:idx], path[idx+1:]
}
