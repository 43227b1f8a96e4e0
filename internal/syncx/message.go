package syncx

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageKind distinguishes the two wire shapes
type MessageKind int

const (
	// KindPatch carries {"JsonPatch": [...]}
	KindPatch MessageKind = iota + 1
	// KindFinished is the terminal {"finished": true}
	KindFinished
)

// ErrUnknownMessage is returned for well-formed JSON that matches neither shape
var ErrUnknownMessage = errors.New("unrecognized stream message")

// Message is one decoded stream message
type Message struct {
	Kind       MessageKind
	Operations []Operation
}

// Finished reports whether this is the terminal message
func (m Message) Finished() bool {
	return m.Kind == KindFinished
}

type wireMessage struct {
	JsonPatch *[]Operation `json:"JsonPatch"`
	Finished  *bool        `json:"finished"`
}

// DecodeMessage parses a raw stream frame.
// A JsonPatch payload wins over a finished flag if a server ever sends both.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("failed to decode stream message: %w", err)
	}

	switch {
	case w.JsonPatch != nil:
		return Message{Kind: KindPatch, Operations: *w.JsonPatch}, nil
	case w.Finished != nil && *w.Finished:
		return Message{Kind: KindFinished}, nil
	default:
		return Message{}, ErrUnknownMessage
	}
}

// EncodePatchMessage renders operations in the {"JsonPatch": [...]} shape
func EncodePatchMessage(ops []Operation) ([]byte, error) {
	if ops == nil {
		ops = []Operation{}
	}
	return json.Marshal(map[string][]Operation{"JsonPatch": ops})
}

// EncodeFinishedMessage renders the terminal message
func EncodeFinishedMessage() []byte {
	return []byte(`{"finished":true}`)
}
