package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rescale/csvup/internal/models"
)

// Fingerprint identifies src at endpoint across runs. A file that changes
// size or modification time gets a new fingerprint and starts over.
func Fingerprint(src models.Source, endpoint string) string {
	raw := fmt.Sprintf("tus-br-%s-%s-%d-%d-%s",
		src.Name(), src.MIMEType(), src.Size(), src.ModTime().UnixMilli(), endpoint)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
