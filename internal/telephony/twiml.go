package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
)

// Minimal TwiML response builder for the outbound leg. Intentionally avoids
// any provider SDK dependency; only the verbs this service emits exist here.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlDial struct {
	XMLName      xml.Name `xml:"Dial"`
	Timeout      int      `xml:"timeout,attr,omitempty"`
	HangupOnStar bool     `xml:"hangupOnStar,attr,omitempty"`
	Number       string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

const outboundGreeting = "Hello! This is a call from VoiceConnect. Please hold while we connect you."

// RenderOutboundTwiML produces the instructions served to the gateway when
// the far end answers: a short greeting, then dial the destination.
func RenderOutboundTwiML(destination string) (string, error) {
	if destination == "" {
		return "", errors.New("telephony: destination required for dial")
	}
	r := twimlResponse{Verbs: []any{
		twimlSay{Voice: "alice", Language: "en-US", Text: outboundGreeting},
		twimlDial{Timeout: 30, HangupOnStar: true, Number: destination},
	}}
	return encodeTwiML(r)
}

// RenderHangupTwiML ends the leg, used when the referenced call is unknown
// or already terminal.
func RenderHangupTwiML() (string, error) {
	return encodeTwiML(twimlResponse{Verbs: []any{twimlHangup{}}})
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
