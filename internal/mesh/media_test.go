package mesh_test

import (
	"errors"
	"testing"

	"github.com/0tak2/webrtc-study/internal/mesh"
)

func TestAcquireMedia(t *testing.T) {
	silence, err := mesh.AcquireMedia(mesh.MediaSilence, "local", discardLogger())
	if err != nil {
		t.Fatalf("silence: %v", err)
	}
	t.Cleanup(silence.Close)

	tracks := silence.Tracks()
	if len(tracks) != 1 || tracks[0].Kind().String() != "audio" || tracks[0].StreamID() != "local" {
		t.Fatalf("unexpected silence tracks: %+v", tracks)
	}

	none, err := mesh.AcquireMedia(mesh.MediaNone, "local", discardLogger())
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if len(none.Tracks()) != 0 {
		t.Fatalf("none yielded tracks")
	}
	none.Close()
	none.Close()
}

func TestAcquireMediaUnknownSource(t *testing.T) {
	_, err := mesh.AcquireMedia("webcam", "local", discardLogger())
	if !errors.Is(err, mesh.ErrMediaAcquisitionFailed) {
		t.Fatalf("expected ErrMediaAcquisitionFailed, got %v", err)
	}
}

func TestHelloCodec(t *testing.T) {
	data, err := mesh.EncodeHello(mesh.Hello{Username: "ana", Version: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	h, err := mesh.DecodeHello(data)
	if err != nil || h.Username != "ana" || h.Version != "dev" {
		t.Fatalf("decoded %+v, %v", h, err)
	}

	if _, err := mesh.DecodeHello([]byte{0xc1}); err == nil {
		t.Fatal("expected error for invalid msgpack")
	}
}
