// formatação de valores numéricos em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatSeconds escreve a duração em segundos inteiros (ex: janela em X-RateLimit-Window).
func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}
