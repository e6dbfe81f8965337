package channel

import (
	"bytes"
	"testing"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		envelope Envelope
	}{
		{"Request", Envelope{Channel: "flutter_shopscript", Kind: KindRequest, Payload: []byte("call")}},
		{"ResponseOK", Envelope{Channel: "flutter_shopscript", Kind: KindResponse, Status: StatusOK, Payload: []byte("value")}},
		{"ResponseError", Envelope{Channel: "c", Kind: KindResponse, Status: StatusError, Payload: []byte(`{"code":"x"}`)}},
		{"NotImplemented", Envelope{Channel: "c", Kind: KindResponse, Status: StatusNotImplemented}},
		{"Notify", Envelope{Channel: "info", Kind: KindNotify, Payload: []byte("hello")}},
		{"EmptyChannel", Envelope{Kind: KindAck}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.envelope.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary failed: %v", err)
			}

			var decoded Envelope
			if err := decoded.UnmarshalBinary(data); err != nil {
				t.Fatalf("UnmarshalBinary failed: %v", err)
			}

			if decoded.Channel != tt.envelope.Channel {
				t.Errorf("Channel: expected %q, got %q", tt.envelope.Channel, decoded.Channel)
			}
			if decoded.Kind != tt.envelope.Kind {
				t.Errorf("Kind: expected %v, got %v", tt.envelope.Kind, decoded.Kind)
			}
			if decoded.Status != tt.envelope.Status {
				t.Errorf("Status: expected %v, got %v", tt.envelope.Status, decoded.Status)
			}
			if !bytes.Equal(decoded.Payload, tt.envelope.Payload) {
				t.Errorf("Payload: expected %q, got %q", tt.envelope.Payload, decoded.Payload)
			}
		})
	}
}

func TestEnvelope_UnmarshalTruncated(t *testing.T) {
	env := Envelope{Channel: "flutter_shopscript", Kind: KindRequest, Payload: []byte("payload")}
	data, err := env.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	for _, cut := range []int{0, 2, 5, len(data) / 2, len(data) - 1} {
		var decoded Envelope
		if err := decoded.UnmarshalBinary(data[:cut]); err == nil {
			t.Errorf("Expected error for %d-byte truncation", len(data)-cut)
		}
	}
}

func TestEnvelope_UnmarshalBogusLength(t *testing.T) {
	// A name length claiming more bytes than the buffer holds must fail
	// cleanly instead of allocating.
	data := []byte{0xFF, 0xFF, 0xFF, 0xFF, 'x'}
	var decoded Envelope
	if err := decoded.UnmarshalBinary(data); err == nil {
		t.Error("Expected error for bogus name length")
	}
}

func TestKindString(t *testing.T) {
	if KindRequest.String() != "Request" {
		t.Errorf("Expected Request, got %s", KindRequest.String())
	}
	if Kind(0xEE).String() != "Unknown" {
		t.Errorf("Expected Unknown, got %s", Kind(0xEE).String())
	}
}

func TestStatusString(t *testing.T) {
	if StatusNotImplemented.String() != "NotImplemented" {
		t.Errorf("Expected NotImplemented, got %s", StatusNotImplemented.String())
	}
}
