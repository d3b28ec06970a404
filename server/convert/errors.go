package convert

import "errors"

var (
	// ErrMissingField is returned when a content block lacks a required key.
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidDataURL is returned when an image_url block does not hold a
	// base64 data URL of the form data:<mime>;base64,<payload>.
	ErrInvalidDataURL = errors.New("invalid data url")

	// ErrUnknownContentType is returned for a block type other than text, image_url or file.
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrInvalidContent is returned when message content is neither a string nor a list.
	ErrInvalidContent = errors.New("received unexpected content type, expected str or list")

	// ErrMissingToolCallID is returned when an AI message carries a tool call without an ID.
	ErrMissingToolCallID = errors.New("tool call ID is required")

	// ErrToolContentNotString is returned when a tool message has list content.
	ErrToolContentNotString = errors.New("tool message content must be a string")

	// ErrMissingToolName is returned when a tool message has no tool name.
	ErrMissingToolName = errors.New("tool name is required")

	// ErrInvalidMessageType is returned for messages that have no genai content role.
	ErrInvalidMessageType = errors.New("invalid message type")
)
