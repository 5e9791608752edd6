package delivery

import "errors"

var (
	errInvalidPayload = errors.New("payloadBase64 is not valid base64")
	errMissingPayload = errors.New("either payloadBase64 or fileKey is required")
	errNoMediaStore   = errors.New("fileKey sends require a configured media store")
)
