package audio

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var mimeByExt = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".aac":  "audio/aac",
}

// MIMEType resolves an audio MIME type from a file name's extension.
func MIMEType(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if ext == "" {
		return "", fmt.Errorf("audio file %q has no extension", name)
	}
	if m, ok := mimeByExt[ext]; ok {
		return m, nil
	}
	m := mime.TypeByExtension(ext)
	if m == "" {
		return "", fmt.Errorf("unsupported audio extension %s", ext)
	}
	m = strings.TrimSpace(strings.Split(m, ";")[0])
	if !strings.HasPrefix(m, "audio/") {
		return "", fmt.Errorf("unsupported audio mime type %s", m)
	}
	return m, nil
}

// MIMETypeOr returns MIMEType(name), or fallback when it cannot be resolved.
func MIMETypeOr(name, fallback string) string {
	if m, err := MIMEType(name); err == nil {
		return m
	}
	return fallback
}
