package capture

import (
	"context"
	"io"
	"testing"

	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
)

func TestOpenGCSObject(t *testing.T) {
	server := fakestorage.NewServer([]fakestorage.Object{
		{
			BucketName: "fake-bucket",
			Name:       "capture.pcap",
			Content:    []byte("pcap bytes go here"),
		},
	})
	defer server.Stop()

	client := stiface.AdaptClient(server.Client())

	rdr, err := OpenGCSObject(context.Background(), client, "gs://fake-bucket/capture.pcap")
	if err != nil {
		t.Fatalf("OpenGCSObject: %v", err)
	}
	defer rdr.Close()

	got, err := io.ReadAll(rdr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "pcap bytes go here" {
		t.Errorf("content = %q, want %q", got, "pcap bytes go here")
	}
}

func TestSplitGCSPath(t *testing.T) {
	tests := []struct {
		path       string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://bucket/path/to/file.pcap", "bucket", "path/to/file.pcap", false},
		{"gs://bucket/file.pcap", "bucket", "file.pcap", false},
		{"/local/path.pcap", "", "", true},
		{"gs://bucket-only", "", "", true},
	}
	for _, tt := range tests {
		bucket, object, err := splitGCSPath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitGCSPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if err == nil && (bucket != tt.wantBucket || object != tt.wantObject) {
			t.Errorf("splitGCSPath(%q) = (%q, %q), want (%q, %q)", tt.path, bucket, object, tt.wantBucket, tt.wantObject)
		}
	}
}
