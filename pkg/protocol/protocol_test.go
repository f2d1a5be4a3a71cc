package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/zyeachat/pkg/model"
	pb "github.com/NicolasHaas/zyeachat/pkg/protocol/pb"
)

func TestFrameRoundTrip(t *testing.T) {
	want := model.IncomingCall{CallerID: "7", CallerName: "Lan", ChannelName: "call_7_9", IsVideo: true}
	f, err := NewFrame(EventIncomingCall, want)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	data, err := Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Event != EventIncomingCall {
		t.Fatalf("event = %q", got.Event)
	}
	var call model.IncomingCall
	if err := got.Decode(&call); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(want, call); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestWireFieldNames(t *testing.T) {
	f, err := NewFrame(EventCallAccepted, pb.CallAccepted{CallerID: "1", ReceiverID: "2", ChannelName: "c"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	data, err := Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"event":"callAccepted","payload":{"callerId":"1","receiverId":"2","channelName":"c"}}`
	if string(data) != want {
		t.Errorf("wire = %s\nwant  %s", data, want)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	tests := map[string]struct {
		data []byte
		want error
	}{
		"missing event": {[]byte(`{"payload":{}}`), ErrMissingEvent},
		"too large":     {[]byte(strings.Repeat(" ", MaxFrameSize+1)), ErrFrameTooLarge},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Unmarshal(tc.data); !errors.Is(err, tc.want) {
				t.Errorf("Unmarshal = %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Error("Unmarshal of garbage should fail")
	}
}

func TestMarshalTooLarge(t *testing.T) {
	f, err := NewFrame(EventSendMessage, pb.SendMessage{ReceiverID: "1", Text: strings.Repeat("x", MaxFrameSize)})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if _, err := Marshal(f); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Marshal = %v, want %v", err, ErrFrameTooLarge)
	}
}

func TestDecodeEmptyPayload(t *testing.T) {
	f := &Frame{Event: EventCallEnded}
	var v pb.CallEnded
	if err := f.Decode(&v); err == nil {
		t.Error("Decode of empty payload should fail")
	}
}

func TestNewFrameNoEvent(t *testing.T) {
	if _, err := NewFrame("", nil); !errors.Is(err, ErrMissingEvent) {
		t.Errorf("NewFrame(\"\") = %v, want %v", err, ErrMissingEvent)
	}
}
