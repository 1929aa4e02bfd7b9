package generation

import (
	"path/filepath"
	"strings"

	"github.com/kgellert/gemini-relay/internal/messages"
)

var mimeByExt = map[string]string{
	".pdf":   "application/pdf",
	".py":    "text/x-python",
	".js":    "text/javascript",
	".ts":    "text/typescript",
	".java":  "text/x-java-source",
	".c":     "text/x-c",
	".cpp":   "text/x-c++",
	".cs":    "text/x-csharp",
	".swift": "text/x-swift",
	".php":   "text/x-php",
	".rb":    "text/x-ruby",
	".kt":    "text/x-kotlin",
	".go":    "text/x-go",
	".rs":    "text/rust",
	".html":  "text/html",
	".css":   "text/css",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/jpeg",
}

// MimeFor picks the inline-data type sent to the model for a.
func MimeFor(a messages.Attachment) string {
	if a.Kind == messages.KindPhoto {
		return "image/jpeg"
	}
	if a.FileName != nil {
		if mt, ok := mimeByExt[strings.ToLower(filepath.Ext(*a.FileName))]; ok {
			return mt
		}
	}
	return a.MimeTypeOrDefault()
}
