// Package xmlutil renders the gateway's S3-compatible XML response
// documents, trimmed to the six schemas SPEC_FULL.md §6 names:
// ListAllMyBucketsResult, ListBucketResult, CopyObjectResult,
// AccessControlPolicy, ListMultipartUploadsResult, and Error. Namespaced
// with the configured s3Version rather than the teacher's hardcoded
// "2006-03-01", and with an optional xml.MarshalIndent pretty-printer gated
// on config.Gateway.PrettyPrint (spec.md's prettyPrint field, otherwise unused by
// the teacher).
package xmlutil

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bleepstore/mantagw/internal/s3err"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Renderer writes XML response documents namespaced with a configured S3
// schema version, optionally indented for readability.
type Renderer struct {
	namespace   string
	prettyPrint bool
}

// New returns a Renderer whose success documents carry
// xmlns="http://s3.amazonaws.com/doc/<s3Version>/".
func New(s3Version string, prettyPrint bool) *Renderer {
	return &Renderer{
		namespace:   fmt.Sprintf("http://s3.amazonaws.com/doc/%s/", s3Version),
		prettyPrint: prettyPrint,
	}
}

// ErrorResponse is the XML structure for S3 error responses. Unlike the
// success documents, it carries no xmlns attribute.
type ErrorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId"`
}

// Owner represents an S3 bucket or object owner.
type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

// Bucket represents a single bucket in a ListBuckets response.
type Bucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

// ListAllMyBucketsResult is the XML structure for ListBuckets responses.
type ListAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Xmlns   string   `xml:"xmlns,attr"`
	Owner   Owner    `xml:"Owner"`
	Buckets []Bucket `xml:"Buckets>Bucket"`
}

// Object represents a single object in a list-objects response.
type Object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
	Owner        *Owner `xml:"Owner,omitempty"`
}

// CommonPrefix represents a common prefix in a list-objects response.
type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// ListBucketResult is the XML structure for the ListObjects response.
type ListBucketResult struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	Xmlns          string         `xml:"xmlns,attr"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	Marker         string         `xml:"Marker"`
	MaxKeys        int            `xml:"MaxKeys"`
	Delimiter      string         `xml:"Delimiter,omitempty"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []Object       `xml:"Contents"`
	CommonPrefixes []CommonPrefix `xml:"CommonPrefixes"`
}

// CopyObjectResult is the XML structure for the CopyObject response.
type CopyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	Xmlns        string   `xml:"xmlns,attr"`
	LastModified string   `xml:"LastModified"`
	ETag         string   `xml:"ETag"`
}

// AccessControlPolicy is the XML structure for ACL responses.
type AccessControlPolicy struct {
	XMLName           xml.Name `xml:"AccessControlPolicy"`
	Xmlns             string   `xml:"xmlns,attr"`
	Owner             Owner    `xml:"Owner"`
	AccessControlList ACL      `xml:"AccessControlList"`
}

// ACL holds the list of grants in an access control policy.
type ACL struct {
	Grants []Grant `xml:"Grant"`
}

// Grant represents a single ACL grant.
type Grant struct {
	Grantee    Grantee `xml:"Grantee"`
	Permission string  `xml:"Permission"`
}

// Grantee represents the entity receiving an ACL grant, with a custom
// MarshalXML to produce the xmlns:xsi/xsi:type attributes S3 clients
// expect.
type Grantee struct {
	XMLName     xml.Name `xml:"Grantee"`
	Type        string   `xml:"-"`
	ID          string   `xml:"ID,omitempty"`
	DisplayName string   `xml:"DisplayName,omitempty"`
	URI         string   `xml:"URI,omitempty"`
}

// MarshalXML implements xml.Marshaler for Grantee.
func (g Grantee) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "Grantee"}
	start.Attr = []xml.Attr{
		{Name: xml.Name{Local: "xmlns:xsi"}, Value: "http://www.w3.org/2001/XMLSchema-instance"},
		{Name: xml.Name{Local: "xsi:type"}, Value: g.Type},
	}

	type granteeContent struct {
		ID          string `xml:"ID,omitempty"`
		DisplayName string `xml:"DisplayName,omitempty"`
		URI         string `xml:"URI,omitempty"`
	}
	return e.EncodeElement(granteeContent{
		ID:          g.ID,
		DisplayName: g.DisplayName,
		URI:         g.URI,
	}, start)
}

// Upload represents a single in-progress multipart upload. Always empty
// in this gateway's fixed ListMultipartUploads response, but the field is
// kept so the document shape matches a real S3 listing.
type Upload struct {
	Key       string `xml:"Key"`
	UploadID  string `xml:"UploadId"`
	Initiator Owner  `xml:"Initiator"`
	Owner     Owner  `xml:"Owner"`
	Initiated string `xml:"Initiated"`
}

// ListMultipartUploadsResult is the XML structure for the fixed
// ListMultipartUploads response.
type ListMultipartUploadsResult struct {
	XMLName        xml.Name       `xml:"ListMultipartUploadsResult"`
	Xmlns          string         `xml:"xmlns,attr"`
	Bucket         string         `xml:"Bucket"`
	KeyMarker      string         `xml:"KeyMarker"`
	UploadIDMarker string         `xml:"UploadIdMarker"`
	MaxUploads     int            `xml:"MaxUploads"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Uploads        []Upload       `xml:"Upload"`
	CommonPrefixes []CommonPrefix `xml:"CommonPrefixes"`
}

// RenderError writes an S3 error XML response to w. The request ID is
// read back from the x-amz-request-id response header set by the common
// headers middleware.
func (rnd *Renderer) RenderError(w http.ResponseWriter, r *http.Request, s3Err *s3err.S3Error, resource string) {
	requestID := w.Header().Get("x-amz-request-id")
	resp := ErrorResponse{
		Code:      s3Err.Code,
		Message:   s3Err.Message,
		Resource:  resource,
		RequestID: requestID,
	}
	rnd.write(w, s3Err.HTTPStatus, resp)
}

// WriteErrorResponse renders an S3 error using the request path as the
// resource.
func (rnd *Renderer) WriteErrorResponse(w http.ResponseWriter, r *http.Request, s3Err *s3err.S3Error) {
	rnd.RenderError(w, r, s3Err, r.URL.Path)
}

// RenderListBuckets writes a ListAllMyBucketsResult XML response.
func (rnd *Renderer) RenderListBuckets(w http.ResponseWriter, owner Owner, buckets []Bucket) {
	result := ListAllMyBucketsResult{Xmlns: rnd.namespace, Owner: owner, Buckets: buckets}
	rnd.write(w, http.StatusOK, result)
}

// RenderListObjects writes a ListBucketResult XML response.
func (rnd *Renderer) RenderListObjects(w http.ResponseWriter, result *ListBucketResult) {
	result.Xmlns = rnd.namespace
	rnd.write(w, http.StatusOK, result)
}

// RenderCopyObject writes a CopyObjectResult XML response.
func (rnd *Renderer) RenderCopyObject(w http.ResponseWriter, result *CopyObjectResult) {
	result.Xmlns = rnd.namespace
	rnd.write(w, http.StatusOK, result)
}

// RenderAccessControlPolicy writes an AccessControlPolicy XML response.
func (rnd *Renderer) RenderAccessControlPolicy(w http.ResponseWriter, acp *AccessControlPolicy) {
	acp.Xmlns = rnd.namespace
	rnd.write(w, http.StatusOK, acp)
}

// RenderListMultipartUploads writes a ListMultipartUploadsResult XML
// response.
func (rnd *Renderer) RenderListMultipartUploads(w http.ResponseWriter, result *ListMultipartUploadsResult) {
	result.Xmlns = rnd.namespace
	rnd.write(w, http.StatusOK, result)
}

// FormatTimeS3 formats t as an S3-compatible ISO-8601 string with
// millisecond precision.
func FormatTimeS3(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// FormatTimeHTTP formats t as an RFC 7231 HTTP-date, used for the Date
// response header the common-headers middleware sets on every response.
func FormatTimeHTTP(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

func (rnd *Renderer) write(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)

	io.WriteString(w, xmlHeader)

	if !rnd.prettyPrint {
		enc := xml.NewEncoder(w)
		if err := enc.Encode(v); err != nil {
			fmt.Fprintf(w, "<!-- XML encoding error: %v -->", err)
		}
		return
	}

	raw, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "<!-- XML encoding error: %v -->", err)
		return
	}
	w.Write(raw)
}
