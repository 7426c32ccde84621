package metacodec

import (
	"net/http"
	"testing"
)

func testDurMap() DurabilityMap {
	return DurabilityMap{
		StorageClassToDurability: map[string]int{
			"STANDARD":           2,
			"REDUCED_REDUNDANCY": 1,
		},
		DurabilityToStorageClass: map[int]string{
			2: "STANDARD",
			1: "REDUCED_REDUNDANCY",
		},
		DefaultDurability: 2,
	}
}

func TestDurabilityMapToDurability(t *testing.T) {
	m := testDurMap()

	if got := m.ToDurability("REDUCED_REDUNDANCY"); got != 1 {
		t.Errorf("ToDurability(REDUCED_REDUNDANCY) = %d, want 1", got)
	}
	if got := m.ToDurability("STANDARD"); got != 2 {
		t.Errorf("ToDurability(STANDARD) = %d, want 2", got)
	}
	if got := m.ToDurability("GLACIER"); got != 2 {
		t.Errorf("ToDurability(unknown) = %d, want default 2", got)
	}
	if got := m.ToDurability(""); got != 2 {
		t.Errorf("ToDurability(empty) = %d, want default 2", got)
	}
}

func TestDurabilityMapToStorageClass(t *testing.T) {
	m := testDurMap()

	if got := m.ToStorageClass(1); got != "REDUCED_REDUNDANCY" {
		t.Errorf("ToStorageClass(1) = %q, want REDUCED_REDUNDANCY", got)
	}
	if got := m.ToStorageClass(99); got != "STANDARD" {
		t.Errorf("ToStorageClass(unknown) = %q, want STANDARD fallback", got)
	}
}

func TestRequestHeadersToBSHeaders(t *testing.T) {
	m := testDurMap()
	h := http.Header{}
	h.Set("X-Amz-Meta-Id", "42")
	h.Set("X-Amz-Meta-Owner", "alice")
	h.Set("x-amz-storage-class", "REDUCED_REDUNDANCY")
	h.Set("Content-Type", "text/plain")

	out := RequestHeadersToBSHeaders(h, m)

	if out["m-Id"] != "42" {
		t.Errorf("m-Id = %q, want 42", out["m-Id"])
	}
	if out["m-Owner"] != "alice" {
		t.Errorf("m-Owner = %q, want alice", out["m-Owner"])
	}
	if out["x-durability-level"] != "1" {
		t.Errorf("x-durability-level = %q, want 1", out["x-durability-level"])
	}
	if _, ok := out["Content-Type"]; ok {
		t.Error("Content-Type should not be folded into the BS header bag")
	}
}

func TestRequestHeadersToBSHeadersDefaultDurability(t *testing.T) {
	m := testDurMap()
	h := http.Header{}

	out := RequestHeadersToBSHeaders(h, m)
	if out["x-durability-level"] != "2" {
		t.Errorf("x-durability-level = %q, want default 2", out["x-durability-level"])
	}
}

func TestBSHeadersToResponseHeaders(t *testing.T) {
	m := testDurMap()
	bs := map[string]string{
		"m-Id":               "42",
		"durability-level":   "1",
		"content-length":     "1024",
		"content-type":       "application/octet-stream",
		"content-md5":        "XUFAKrxLKna5cZ2REBfFkg==",
		"some-unrelated-key": "ignored",
	}

	out := BSHeadersToResponseHeaders(bs, m)

	if got := out.Get("x-amz-meta-Id"); got != "42" {
		t.Errorf("x-amz-meta-Id = %q, want 42", got)
	}
	if got := out.Get("x-amz-storage-class"); got != "REDUCED_REDUNDANCY" {
		t.Errorf("x-amz-storage-class = %q, want REDUCED_REDUNDANCY", got)
	}
	if got := out.Get("Content-Length"); got != "1024" {
		t.Errorf("Content-Length = %q, want 1024", got)
	}
	if got := out.Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type = %q, want application/octet-stream", got)
	}
	if got := out.Get("ETag"); got != `"5d41402abc4b2a76b9719d911017c592"` {
		t.Errorf("ETag = %q, want quoted hex digest of hello", got)
	}
	if got := out.Get("some-unrelated-key"); got != "" {
		t.Errorf("unrelated BS key leaked into response headers: %q", got)
	}
}

func TestBSHeadersToResponseHeadersUnparsableDurability(t *testing.T) {
	m := testDurMap()
	bs := map[string]string{"durability-level": "not-a-number"}

	out := BSHeadersToResponseHeaders(bs, m)
	if got := out.Get("x-amz-storage-class"); got != "STANDARD" {
		t.Errorf("x-amz-storage-class = %q, want STANDARD fallback on parse failure", got)
	}
}

func TestMD5Base64ToEtagRoundTrip(t *testing.T) {
	// "hello" -> MD5 XUFAKrxLKna5cZ2REBfFkg== (base64) / 5d41402abc4b2a76b9719d911017c592 (hex).
	const b64 = "XUFAKrxLKna5cZ2REBfFkg=="
	const hexDigest = "5d41402abc4b2a76b9719d911017c592"

	etag, err := MD5Base64ToEtag(b64)
	if err != nil {
		t.Fatalf("MD5Base64ToEtag: %v", err)
	}
	if etag != hexDigest {
		t.Errorf("MD5Base64ToEtag(%q) = %q, want %q", b64, etag, hexDigest)
	}

	back, err := EtagToMD5Base64(etag)
	if err != nil {
		t.Fatalf("EtagToMD5Base64: %v", err)
	}
	if back != b64 {
		t.Errorf("EtagToMD5Base64(%q) = %q, want %q", etag, back, b64)
	}
}

func TestEtagToMD5Base64TrimsQuotes(t *testing.T) {
	got, err := EtagToMD5Base64(`"5d41402abc4b2a76b9719d911017c592"`)
	if err != nil {
		t.Fatalf("EtagToMD5Base64: %v", err)
	}
	if got != "XUFAKrxLKna5cZ2REBfFkg==" {
		t.Errorf("EtagToMD5Base64 with quotes = %q, want XUFAKrxLKna5cZ2REBfFkg==", got)
	}
}

func TestMD5Base64ToEtagInvalidInput(t *testing.T) {
	if _, err := MD5Base64ToEtag("not valid base64!!"); err == nil {
		t.Error("expected error for invalid base64 input")
	}
}
