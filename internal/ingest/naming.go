package ingest

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nimeninja/ingestd/internal/utils"
)

const fileNameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateFileName returns "<unixMillis>-<6 random alnum>-<uuid><ext>", keeping the
// lowercased extension of originalName when it is plain alphanumerics.
func GenerateFileName(originalName string, now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" +
		randomCode(6) + "-" +
		uuid.New().String() +
		utils.SanitizeExtension(originalName)
}

func randomCode(length int) string {
	max := big.NewInt(int64(len(fileNameAlphabet)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken
			panic("ingest: crypto/rand failed: " + err.Error())
		}
		b[i] = fileNameAlphabet[n.Int64()]
	}
	return string(b)
}
