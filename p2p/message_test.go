package p2p

import (
	"encoding/json"
	"testing"
)

func TestWireMessageOmitsUnsetFields(t *testing.T) {
	msg := WireMessage{Kind: KindPing, Nonce: 7}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, present := raw["network_id"]; present {
		t.Fatal("expected an unset network_id to be omitted from the JSON envelope")
	}
	if _, present := raw["payload_b64"]; present {
		t.Fatal("expected an unset payload_b64 to be omitted from the JSON envelope")
	}
	if raw["kind"] != KindPing {
		t.Fatalf("expected kind %q, got %v", KindPing, raw["kind"])
	}
}

func TestWireMessageRoundTrip(t *testing.T) {
	orig := WireMessage{
		Kind:       KindVersion,
		NetworkID:  "chainlattice/mainnet",
		NodeID:     "12D3KooW...",
		Height:     42,
		HashHex:    "ab",
		PayloadB64: "",
	}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var got WireMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if got != orig {
		t.Fatalf("expected round trip to preserve the message, got %+v want %+v", got, orig)
	}
}
