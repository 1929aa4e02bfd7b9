package archive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const keyPrefix = "generated/"

var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
	"image/avif": ".avif",
	"image/gif":  ".gif",
}

func ExtForMime(contentType string) (string, bool) {
	ext, ok := extByContentType[strings.ToLower(contentType)]
	return ext, ok
}

// GenerateKey returns generated/<chatID>/<uuidv7><ext>.
func GenerateKey(chatID int64, contentType string) (string, error) {
	ext, ok := ExtForMime(contentType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return keyPrefix + strconv.FormatInt(chatID, 10) + "/" + u.String() + ext, nil
}

func validateKey(key string) error {
	if key == "" || !strings.HasPrefix(key, keyPrefix) || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
