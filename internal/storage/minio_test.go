package storage

import "testing"

func TestKeyFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantKey string
		wantOK  bool
	}{
		{
			name:    "result key",
			url:     "http://localhost:9002/nano-banana-images/images/20240101_abcd1234.png",
			wantKey: "images/20240101_abcd1234.png",
			wantOK:  true,
		},
		{
			name:    "reference key",
			url:     "http://localhost:9002/nano-banana-images/references/ref.jpg",
			wantKey: "references/ref.jpg",
			wantOK:  true,
		},
		{
			name:   "foreign host",
			url:    "https://replicate.delivery/pbxt/out.png",
			wantOK: false,
		},
		{
			name:   "wrong bucket",
			url:    "http://localhost:9002/other-bucket/images/x.png",
			wantOK: false,
		},
		{
			name:   "bare prefix",
			url:    "http://localhost:9002/nano-banana-images/",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := KeyFromURL(tt.url, "http://localhost:9002", "nano-banana-images")
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if key != tt.wantKey {
				t.Fatalf("key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}

func TestKeyFromURLTrailingSlashBase(t *testing.T) {
	key, ok := KeyFromURL(
		"http://localhost:9002/nano-banana-images/images/a.png",
		"http://localhost:9002/",
		"nano-banana-images",
	)
	if !ok || key != "images/a.png" {
		t.Fatalf("got (%q, %v)", key, ok)
	}
}
