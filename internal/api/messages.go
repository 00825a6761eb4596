package api

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
)

// CommandType names a client request.
type CommandType string

const (
	CommandSource    CommandType = "source"
	CommandTarget    CommandType = "target"
	CommandOutput    CommandType = "output"
	CommandToggle    CommandType = "toggle"
	CommandStepFrame CommandType = "step_frame"
	CommandStepFace  CommandType = "step_face"
	CommandSeek      CommandType = "seek"
	CommandState     CommandType = "state"
	CommandRecent    CommandType = "recent"
)

// Command is one JSON text frame sent by the client.
type Command struct {
	Type  CommandType `json:"type"`
	Path  string      `json:"path,omitempty"`
	Delta int         `json:"delta,omitempty"`
	Frame int         `json:"frame,omitempty"`
	Slot  string      `json:"slot,omitempty"`
}

// MessageType names a server push.
type MessageType string

const (
	MessagePreview    MessageType = "preview"
	MessageRange      MessageType = "range"
	MessageRangeHide  MessageType = "range_hidden"
	MessageStatus     MessageType = "status"
	MessageVisibility MessageType = "visibility"
	MessageThumbnail  MessageType = "thumbnail"
	MessageState      MessageType = "state"
	MessageRecent     MessageType = "recent"
	MessageStarted    MessageType = "started"
	MessageError      MessageType = "error"
	// MessageTerminated is the last message of a session ended by a policy violation.
	MessageTerminated MessageType = "terminated"
)

// Message is one JSON text frame pushed to the client.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Payload   interface{} `json:"payload,omitempty"`
}

type PreviewPayload struct {
	Frame int    `json:"frame"`
	Image string `json:"image"` // base64 PNG
}

type RangePayload struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type ThumbnailPayload struct {
	Slot  string `json:"slot"`
	Image string `json:"image"`
}

type StatePayload struct {
	Visibility     string `json:"visibility"`
	CurrentFrame   int    `json:"current_frame"`
	TotalFrames    int    `json:"total_frames"`
	ReferenceFrame int    `json:"reference_frame"`
	ReferencePos   int    `json:"reference_position"`
	HasReference   bool   `json:"has_reference"`
	Source         string `json:"source,omitempty"`
	Target         string `json:"target,omitempty"`
	Output         string `json:"output,omitempty"`
}

type RecentPayload struct {
	Slot string `json:"slot"`
	Dir  string `json:"dir"`
}

type TextPayload struct {
	Text string `json:"text"`
}

// encodePNG renders img as a base64 PNG for JSON transport.
func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
