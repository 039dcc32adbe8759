//go:build !whisper

package transcribe

// NewWhisperEngine returns nil when the binary is built without the
// whisper build tag; on-device models are then reported unavailable.
func NewWhisperEngine() Engine { return nil }
