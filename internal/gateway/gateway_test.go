package gateway

import (
	"path/filepath"
	"testing"

	"github.com/bleepstore/mantagw/internal/bsclient/local"
	"github.com/bleepstore/mantagw/internal/config"
	"github.com/bleepstore/mantagw/internal/xmlutil"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	bs, err := local.New(filepath.Join(t.TempDir(), "buckets"))
	if err != nil {
		t.Fatalf("creating local backend: %v", err)
	}

	cfg := config.GatewayConfig{
		BucketPath:        "/",
		DefaultDurability: 2,
		MaxFilenameLength: 1024,
		S3Version:         "2006-03-01",
		StorageClassToDurability: map[string]int{
			"STANDARD":           2,
			"REDUCED_REDUNDANCY": 1,
		},
		DurabilityToStorageClass: map[int]string{
			2: "STANDARD",
			1: "REDUCED_REDUNDANCY",
		},
	}

	return New(bs, cfg, xmlutil.New(cfg.S3Version, false), "test-owner", "Test Owner")
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path       string
		wantBucket string
		wantKey    string
	}{
		{"/", "", ""},
		{"", "", ""},
		{"/my-bucket", "my-bucket", ""},
		{"/my-bucket/key", "my-bucket", "key"},
		{"/my-bucket/a/b/c", "my-bucket", "a/b/c"},
	}
	for _, tt := range tests {
		bucket, key := parsePath(tt.path)
		if bucket != tt.wantBucket || key != tt.wantKey {
			t.Errorf("parsePath(%q) = (%q, %q), want (%q, %q)", tt.path, bucket, key, tt.wantBucket, tt.wantKey)
		}
	}
}

func TestValidateBucketName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"my-bucket", false},
		{"a.b.c", false},
		{"ab", true},              // too short
		{"AB-UPPER", true},        // uppercase not allowed
		{"192.168.1.1", true},     // looks like an IP
		{"has..double.dot", true}, // consecutive periods
		{"-leading-hyphen", true}, // must start with letter/digit
	}
	for _, tt := range tests {
		got := validateBucketName(tt.name)
		if (got != "") != tt.wantErr {
			t.Errorf("validateBucketName(%q) = %q, wantErr %v", tt.name, got, tt.wantErr)
		}
	}
}

func TestParseCopySource(t *testing.T) {
	tests := []struct {
		header     string
		wantBucket string
		wantKey    string
		wantOK     bool
	}{
		{"/src-bucket/src-key", "src-bucket", "src-key", true},
		{"src-bucket/src-key", "src-bucket", "src-key", true},
		{"/src-bucket/a/b/c", "src-bucket", "a/b/c", true},
		{"/just-a-bucket", "", "", false},
		{"", "", "", false},
		{"/bucket/", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := parseCopySource(tt.header)
		if ok != tt.wantOK {
			t.Errorf("parseCopySource(%q) ok = %v, want %v", tt.header, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if bucket != tt.wantBucket || key != tt.wantKey {
			t.Errorf("parseCopySource(%q) = (%q, %q), want (%q, %q)", tt.header, bucket, key, tt.wantBucket, tt.wantKey)
		}
	}
}
