package signaling

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseClientEnvelope_Valid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{name: "join", raw: `{"type":"join","name":"Ada"}`, want: KindJoin},
		{name: "call-request", raw: `{"type":"call-request","to":"c2"}`, want: KindCallRequest},
		{name: "offer", raw: `{"type":"offer","to":"c2","sdp":{"type":"offer","sdp":"v=0"}}`, want: KindOffer},
		{name: "answer", raw: `{"type":"answer","to":"c1","sdp":{"type":"answer","sdp":"v=0"}}`, want: KindAnswer},
		{name: "ice-candidate", raw: `{"type":"ice-candidate","to":"c2","candidate":{"candidate":"candidate:1"}}`, want: KindICECandidate},
		{name: "hangup without to", raw: `{"type":"hangup"}`, want: KindHangup},
		{name: "hangup with to", raw: `{"type":"hangup","to":"c2"}`, want: KindHangup},
		{name: "leave alias", raw: `{"type":"leave"}`, want: KindHangup},
		{name: "extra fields tolerated", raw: `{"type":"join","name":"Ada","clientVersion":"2.1"}`, want: KindJoin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseClientEnvelope([]byte(tt.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			env.Normalize()
			if env.Type != tt.want {
				t.Fatalf("kind = %q, want %q", env.Type, tt.want)
			}
		})
	}
}

func TestParseClientEnvelope_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "json array", raw: `[1,2,3]`},
		{name: "missing type", raw: `{"name":"Ada"}`},
		{name: "join missing name", raw: `{"type":"join"}`},
		{name: "offer missing to", raw: `{"type":"offer","sdp":{}}`},
		{name: "offer missing sdp", raw: `{"type":"offer","to":"c2"}`},
		{name: "answer missing sdp", raw: `{"type":"answer","to":"c1"}`},
		{name: "candidate missing candidate", raw: `{"type":"ice-candidate","to":"c2"}`},
		{name: "server-only welcome", raw: `{"type":"welcome","id":"x"}`},
		{name: "server-only user-list", raw: `{"type":"user-list"}`},
		{name: "server-only participant-left", raw: `{"type":"participant-left","id":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseClientEnvelope([]byte(tt.raw)); err == nil {
				t.Fatalf("expected error for %q", tt.raw)
			}
		})
	}
}

func TestParseClientEnvelope_UnrecognizedKind(t *testing.T) {
	_, err := ParseClientEnvelope([]byte(`{"type":"frobnicate"}`))
	if !errors.Is(err, ErrUnrecognizedKind) {
		t.Fatalf("err = %v, want ErrUnrecognizedKind", err)
	}
}

func TestParseClientEnvelope_PayloadIsOpaque(t *testing.T) {
	raw := []byte(`{"type":"offer","to":"c2","sdp":{"type":"offer","sdp":"v=0\r\n","custom":[1,2,{"x":null}]}}`)
	env, err := ParseClientEnvelope(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := []byte(`{"type":"offer","sdp":"v=0\r\n","custom":[1,2,{"x":null}]}`)
	if !bytes.Equal(env.SDP, want) {
		t.Fatalf("sdp payload altered:\n got %s\nwant %s", env.SDP, want)
	}
}

func TestKindRouted(t *testing.T) {
	routed := []Kind{KindCallRequest, KindOffer, KindAnswer, KindICECandidate, KindHangup}
	for _, k := range routed {
		if !k.Routed() {
			t.Fatalf("%q should be routed", k)
		}
	}
	for _, k := range []Kind{KindWelcome, KindUserList, KindParticipantLeft, KindJoin, KindUnrecognized} {
		if k.Routed() {
			t.Fatalf("%q should not be routed", k)
		}
	}
}
