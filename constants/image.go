package constants

const (
	// DefaultMaxDimension bounds the longest edge of the image sent upstream.
	DefaultMaxDimension = 2048
	// DefaultJPEGQuality is the re-encode quality of every prepared image.
	DefaultJPEGQuality = 85

	MediaTypeJPEG = "image/jpeg"

	// DefaultMaxUploadBytes caps a single upload (20 MiB).
	DefaultMaxUploadBytes int64 = 20 << 20
)
