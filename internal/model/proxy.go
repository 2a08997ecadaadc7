// Package model defines shared types for the relay.
package model

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// BodyKind discriminates the representations an inbound body can arrive in.
type BodyKind int

const (
	// BodyAbsent means no body was sent.
	BodyAbsent BodyKind = iota
	// BodyText is a body delivered as raw text; it is forwarded verbatim.
	BodyText
	// BodyValue is a body the host runtime already decoded into a Go value.
	BodyValue
)

// Body is an inbound request body in whichever shape the host runtime produced.
// The zero value is an absent body.
type Body struct {
	kind  BodyKind
	text  string
	value any
}

// NoBody returns an absent body.
func NoBody() Body { return Body{} }

// TextBody wraps raw body text. Empty text is treated as an absent body.
func TextBody(s string) Body {
	if s == "" {
		return Body{}
	}
	return Body{kind: BodyText, text: s}
}

// ValueBody wraps an already decoded value. A nil value is treated as absent.
func ValueBody(v any) Body {
	if v == nil {
		return Body{}
	}
	return Body{kind: BodyValue, value: v}
}

// Kind reports which representation the body holds.
func (b Body) Kind() BodyKind { return b.kind }

// Text normalizes the body to the text sent upstream. ok is false for an
// absent body. Decoded values are serialized as JSON; raw text is returned
// untouched and never re-validated.
func (b Body) Text() (text string, ok bool, err error) {
	switch b.kind {
	case BodyText:
		return b.text, true, nil
	case BodyValue:
		data, err := json.Marshal(b.value)
		if err != nil {
			return "", false, fmt.Errorf("encode body: %w", err)
		}
		return string(data), true, nil
	default:
		return "", false, nil
	}
}

// RelayRequest is one inbound call as delivered by the host runtime.
type RelayRequest struct {
	Method string
	Header http.Header
	Body   Body
}

// RelayResponse is the fully buffered upstream result mapped for the caller.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
