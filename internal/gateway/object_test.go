package gateway

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func createTestBucket(t *testing.T, g *Gateway, name string) {
	t.Helper()
	rec := httptest.NewRecorder()
	g.CreateBucket(rec, httptest.NewRequest(http.MethodPut, "/"+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("creating test bucket %q: status %d, body %s", name, rec.Code, rec.Body.String())
	}
}

func putTestObject(t *testing.T, g *Gateway, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.PutObject(rec, req)
	return rec
}

func TestPutGetHeadObject(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "obj-bucket")

	putRec := putTestObject(t, g, "/obj-bucket/a/b/c.txt", "hello", map[string]string{"Content-Type": "text/plain"})
	if putRec.Code != http.StatusOK {
		t.Fatalf("PutObject status = %d, body: %s", putRec.Code, putRec.Body.String())
	}
	etag := putRec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("PutObject response missing ETag")
	}

	getRec := httptest.NewRecorder()
	g.GetObject(getRec, httptest.NewRequest(http.MethodGet, "/obj-bucket/a/b/c.txt", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("GetObject status = %d, want %d", getRec.Code, http.StatusOK)
	}
	if getRec.Body.String() != "hello" {
		t.Errorf("GetObject body = %q, want %q", getRec.Body.String(), "hello")
	}
	if got := getRec.Header().Get("ETag"); got != etag {
		t.Errorf("GetObject ETag = %q, want %q (from PutObject)", got, etag)
	}

	headRec := httptest.NewRecorder()
	g.HeadObject(headRec, httptest.NewRequest(http.MethodHead, "/obj-bucket/a/b/c.txt", nil))
	if headRec.Code != http.StatusOK {
		t.Fatalf("HeadObject status = %d, want %d", headRec.Code, http.StatusOK)
	}
	if headRec.Body.Len() != 0 {
		t.Errorf("HeadObject wrote a body of length %d, want 0", headRec.Body.Len())
	}
	if got := headRec.Header().Get("Content-Length"); got != strconv.Itoa(len("hello")) {
		t.Errorf("HeadObject Content-Length = %q, want %d", got, len("hello"))
	}
}

func TestGetObjectOnDirectoryIsNotFound(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "dir-bucket")
	putTestObject(t, g, "/dir-bucket/sub/file.txt", "x", nil)

	rec := httptest.NewRecorder()
	g.GetObject(rec, httptest.NewRequest(http.MethodGet, "/dir-bucket/sub", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GetObject on a directory path status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestPutObjectInvalidKey(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "key-bucket")

	rec := putTestObject(t, g, "/key-bucket/"+strings.Repeat("x", 10000), "x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PutObject with overlong key status = %d, want %d, body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<Code>InvalidKey</Code>") {
		t.Errorf("expected InvalidKey, got: %s", rec.Body.String())
	}
}

func TestPutObjectKeyTooLong(t *testing.T) {
	g := newTestGateway(t)
	g.Cfg.MaxFilenameLength = 30
	createTestBucket(t, g, "key-bucket")

	// short enough to pass pathcodec.Sanitize's own length check, but long
	// enough that the joined backing-store path ("/key-bucket/" + key)
	// exceeds MaxFilenameLength, hitting the dedicated KeyTooLong check.
	key := strings.Repeat("k", 25)
	rec := putTestObject(t, g, "/key-bucket/"+key, "x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PutObject with overlong joined path status = %d, want %d, body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<Code>KeyTooLong</Code>") {
		t.Errorf("expected KeyTooLong, got: %s", rec.Body.String())
	}
}

func TestPutObjectReservedSidecarName(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "sidecar-bucket")
	putTestObject(t, g, "/sidecar-bucket/data", "payload", nil)

	rec := putTestObject(t, g, "/sidecar-bucket/.data.bsmeta", "evil", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("PutObject with sidecar-shaped key status = %d, want %d, body: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<Code>InvalidKey</Code>") {
		t.Errorf("expected InvalidKey, got: %s", rec.Body.String())
	}
}

func TestPutObjectNoSuchBucket(t *testing.T) {
	g := newTestGateway(t)

	rec := putTestObject(t, g, "/does-not-exist/key", "x", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("PutObject into missing bucket status = %d, want %d, body: %s", rec.Code, http.StatusNotFound, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<Code>NoSuchBucket</Code>") {
		t.Errorf("expected NoSuchBucket, got: %s", rec.Body.String())
	}
}

func TestDeleteObject(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "del-bucket")
	putTestObject(t, g, "/del-bucket/key", "x", nil)

	rec := httptest.NewRecorder()
	g.DeleteObject(rec, httptest.NewRequest(http.MethodDelete, "/del-bucket/key", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DeleteObject status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	getRec := httptest.NewRecorder()
	g.GetObject(getRec, httptest.NewRequest(http.MethodGet, "/del-bucket/key", nil))
	if getRec.Code != http.StatusNotFound {
		t.Errorf("GetObject after delete status = %d, want %d", getRec.Code, http.StatusNotFound)
	}
}

func TestDeleteObjectNotFound(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "del-bucket2")

	rec := httptest.NewRecorder()
	g.DeleteObject(rec, httptest.NewRequest(http.MethodDelete, "/del-bucket2/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DeleteObject on missing key status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "<Code>NoSuchKey</Code>") {
		t.Errorf("expected NoSuchKey, got: %s", rec.Body.String())
	}
}

func TestCopyObject(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "copy-bucket")
	putTestObject(t, g, "/copy-bucket/src", "copy-me", map[string]string{"Content-Type": "text/plain"})

	req := httptest.NewRequest(http.MethodPut, "/copy-bucket/dst", nil)
	req.Header.Set("x-amz-copy-source", "/copy-bucket/src")
	rec := httptest.NewRecorder()
	g.CopyObject(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("CopyObject status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<CopyObjectResult") {
		t.Errorf("CopyObject body missing CopyObjectResult: %s", rec.Body.String())
	}

	getRec := httptest.NewRecorder()
	g.GetObject(getRec, httptest.NewRequest(http.MethodGet, "/copy-bucket/dst", nil))
	if getRec.Body.String() != "copy-me" {
		t.Errorf("GetObject on copy destination = %q, want %q", getRec.Body.String(), "copy-me")
	}
}

func TestCopyObjectSourceNotFound(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "copy-bucket2")

	req := httptest.NewRequest(http.MethodPut, "/copy-bucket2/dst", nil)
	req.Header.Set("x-amz-copy-source", "/copy-bucket2/missing-src")
	rec := httptest.NewRecorder()
	g.CopyObject(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("CopyObject with missing source status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCopyObjectDestinationBucketNotFound(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "copy-src-bucket")
	putTestObject(t, g, "/copy-src-bucket/src", "copy-me", nil)

	req := httptest.NewRequest(http.MethodPut, "/no-such-bucket/dst", nil)
	req.Header.Set("x-amz-copy-source", "/copy-src-bucket/src")
	rec := httptest.NewRecorder()
	g.CopyObject(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("CopyObject into a nonexistent bucket status = %d, want %d, body: %s", rec.Code, http.StatusNotFound, rec.Body.String())
	}

	headRec := httptest.NewRecorder()
	g.HeadBucket(headRec, httptest.NewRequest(http.MethodHead, "/no-such-bucket", nil))
	if headRec.Code != http.StatusNotFound {
		t.Errorf("CopyObject into a nonexistent bucket must not create it, HeadBucket status = %d, want %d", headRec.Code, http.StatusNotFound)
	}
}

func TestListObjectsMaxKeysZero(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "zero-bucket")
	putTestObject(t, g, "/zero-bucket/only.txt", "v", nil)

	rec := httptest.NewRecorder()
	g.ListObjects(rec, httptest.NewRequest(http.MethodGet, "/zero-bucket?max-keys=0", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ListObjects max-keys=0 status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<Contents>") {
		t.Errorf("ListObjects max-keys=0 must return zero <Contents>, got: %s", body)
	}
	if !strings.Contains(body, "<IsTruncated>true</IsTruncated>") {
		t.Errorf("ListObjects max-keys=0 with an existing object must set IsTruncated=true, got: %s", body)
	}
}

func TestListObjectsPrefixDelimiter(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "list-bucket")
	for _, key := range []string{"a/one.txt", "a/two.txt", "b/three.txt", "top.txt"} {
		putTestObject(t, g, "/list-bucket/"+key, "v", nil)
	}

	rec := httptest.NewRecorder()
	g.ListObjects(rec, httptest.NewRequest(http.MethodGet, "/list-bucket?prefix=a/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ListObjects status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if strings.Count(body, "<Contents>") != 2 {
		t.Errorf("ListObjects with prefix a/ body = %s, want exactly 2 <Contents>", body)
	}

	topRec := httptest.NewRecorder()
	g.ListObjects(topRec, httptest.NewRequest(http.MethodGet, "/list-bucket", nil))
	topBody := topRec.Body.String()
	if strings.Count(topBody, "<CommonPrefixes>") == 0 {
		t.Errorf("top-level ListObjects missing CommonPrefixes: %s", topBody)
	}
	if !strings.Contains(topBody, "<Key>top.txt</Key>") {
		t.Errorf("top-level ListObjects missing top.txt: %s", topBody)
	}
}

func TestListObjectsDoubleSlashPrefixReturnsEmpty(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "list-bucket2")
	putTestObject(t, g, "/list-bucket2/key.txt", "v", nil)

	rec := httptest.NewRecorder()
	g.ListObjects(rec, httptest.NewRequest(http.MethodGet, "/list-bucket2?prefix=a//b", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ListObjects with // in prefix status = %d, want %d", rec.Code, http.StatusOK)
	}
	if strings.Contains(rec.Body.String(), "<Contents>") {
		t.Errorf("ListObjects with // in prefix should short-circuit to empty, got: %s", rec.Body.String())
	}
}

func TestGetAclPutAclFixedResponses(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "acl-bucket")
	putTestObject(t, g, "/acl-bucket/key", "x", nil)

	getRec := httptest.NewRecorder()
	g.GetAcl(getRec, httptest.NewRequest(http.MethodGet, "/acl-bucket/key?acl", nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("GetAcl status = %d, want %d", getRec.Code, http.StatusOK)
	}
	if !strings.Contains(getRec.Body.String(), "<AccessControlPolicy") {
		t.Errorf("GetAcl body missing AccessControlPolicy: %s", getRec.Body.String())
	}

	putRec := httptest.NewRecorder()
	g.PutAcl(putRec, httptest.NewRequest(http.MethodPut, "/acl-bucket/key?acl", strings.NewReader("<AccessControlPolicy/>")))
	if putRec.Code != http.StatusOK {
		t.Fatalf("PutAcl status = %d, want %d", putRec.Code, http.StatusOK)
	}
}

func TestListMultipartUploadsFixedResponse(t *testing.T) {
	g := newTestGateway(t)
	createTestBucket(t, g, "mpu-bucket")

	rec := httptest.NewRecorder()
	g.ListMultipartUploads(rec, httptest.NewRequest(http.MethodGet, "/mpu-bucket?uploads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ListMultipartUploads status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "<IsTruncated>false</IsTruncated>") {
		t.Errorf("expected IsTruncated=false, got: %s", rec.Body.String())
	}
}
