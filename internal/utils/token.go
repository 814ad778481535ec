package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// NewToken 生成一个安全的随机 token，长度为 2*n 个十六进制字符
func NewToken(n int) string {
	if n <= 0 {
		n = 16
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
