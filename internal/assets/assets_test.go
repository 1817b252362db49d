package assets

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	key := TargetKey("BALD-0042")
	payload := []byte("mind target bytes")
	if err := store.Put(ctx, key, MIMEOctetStream, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v, want true", ok, err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Get = %q, want %q", got, payload)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestLocalStoreOverwrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	key := ImageKey("BALD-0001", ".jpg")
	if err := store.Put(ctx, key, MIMEImageJPEG, []byte("v1")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := store.Put(ctx, key, MIMEImageJPEG, []byte("v2")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("Get = %q, want v2", got)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b", "a//b"} {
		if err := store.Put(ctx, key, MIMEOctetStream, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestKeyHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"target", TargetKey("BALD-0042"), "targets/BALD-0042.mind"},
		{"target sanitized", TargetKey("BALD/0042"), "targets/BALD0042.mind"},
		{"image", ImageKey("BALD-0042", ".jpg"), "images/BALD-0042.jpg"},
		{"portrait", PortraitKey("BALD-0042", ".png"), "portraits/BALD-0042.png"},
		{"audio", AudioKey("BALD-0042", ".mp3"), "audio/BALD-0042.mp3"},
		{"bundle", BundleKey("abc-123", 4), "bundles/abc-123-v4.bundle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestProposalImageKey(t *testing.T) {
	id := "prop-123"
	key, err := ProposalImageKey(MIMEImageJPEG, &id)
	if err != nil {
		t.Fatalf("ProposalImageKey: %v", err)
	}
	if !strings.HasPrefix(key, "proposals/prop-123/") || !strings.HasSuffix(key, ".jpg") {
		t.Errorf("key = %q, want proposals/prop-123/<uuid>.jpg", key)
	}

	key, err = ProposalImageKey(MIMEImagePNG, nil)
	if err != nil {
		t.Fatalf("ProposalImageKey nil id: %v", err)
	}
	if !strings.HasPrefix(key, "proposals/temp/") {
		t.Errorf("key = %q, want temp prefix", key)
	}

	if _, err := ProposalImageKey("text/html", nil); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}

	bad := "../../etc"
	if _, err := ProposalImageKey(MIMEImageJPEG, &bad); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("err = %v, want ErrInvalidKey for unsanitizable id", err)
	}
}

func TestValidTargetFilename(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"marker.mind", true},
		{"MARKER.MIND", true},
		{"dir/marker.mind", true},
		{"marker.mind.txt", false},
		{"marker", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidTargetFilename(tt.name); got != tt.want {
			t.Errorf("ValidTargetFilename(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidateContentType(t *testing.T) {
	for _, ct := range []string{MIMEImageJPEG, MIMEImagePNG, MIMEAudioMPEG, MIMEAudioWAV, MIMEOctetStream} {
		if err := ValidateContentType(ct); err != nil {
			t.Errorf("ValidateContentType(%q) = %v", ct, err)
		}
	}
	if err := ValidateContentType("application/pdf"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}
