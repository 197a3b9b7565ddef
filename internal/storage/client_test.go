package storage

import "testing"

func TestUploadKeyStripsClientPaths(t *testing.T) {
	cases := map[string]string{
		"photo.png":             "uploads/abc/photo.png",
		"../../etc/passwd":      "uploads/abc/passwd",
		`C:\Users\me\shot.jpg`:  "uploads/abc/shot.jpg",
		"  ":                    "uploads/abc/file",
		"nested/dir/banner.bmp": "uploads/abc/banner.bmp",
	}
	for name, want := range cases {
		if got := UploadKey("abc", name); got != want {
			t.Fatalf("UploadKey(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestPublicURLDefaultsToEndpointAndBucket(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "localhost:9000", Access: "k", Secret: "s", Bucket: "imagekit"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := client.PublicURL("uploads/a/b.png"); got != "http://localhost:9000/imagekit/uploads/a/b.png" {
		t.Fatalf("unexpected public url %q", got)
	}

	client, err = NewClient(Config{Endpoint: "localhost:9000", Bucket: "imagekit", PublicURL: "https://cdn.example.com/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if got := client.PublicURL("x.png"); got != "https://cdn.example.com/x.png" {
		t.Fatalf("unexpected public url %q", got)
	}
}

func TestNewClientRequiresBucket(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected missing bucket error")
	}
}
