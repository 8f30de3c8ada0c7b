package telephony

import (
	"strings"
	"testing"
)

func TestRenderOutboundTwiML(t *testing.T) {
	out, err := RenderOutboundTwiML("+15551234567")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, want := range []string{
		"<Response>",
		`<Say voice="alice" language="en-US">`,
		`<Dial timeout="30" hangupOnStar="true">+15551234567</Dial>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderOutboundTwiMLRequiresDestination(t *testing.T) {
	if _, err := RenderOutboundTwiML(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRenderHangupTwiML(t *testing.T) {
	out, err := RenderHangupTwiML()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(out, "<Hangup") {
		t.Fatalf("missing Hangup verb in:\n%s", out)
	}
	if strings.Contains(out, "<Dial") {
		t.Fatalf("hangup response must not dial:\n%s", out)
	}
}
