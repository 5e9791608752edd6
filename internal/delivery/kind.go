package delivery

import "chathub_backend/internal/gateway"

// mediaKindOf maps a validated DTO value onto the gateway enum.
func mediaKindOf(value string) gateway.MediaKind {
	switch value {
	case "video":
		return gateway.MediaVideo
	case "document":
		return gateway.MediaDocument
	case "audio":
		return gateway.MediaAudio
	default:
		return gateway.MediaImage
	}
}
