package events

import (
	"encoding/hex"
	"fmt"
)

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

func hexString(data []byte) string {
	return hex.EncodeToString(data)
}
