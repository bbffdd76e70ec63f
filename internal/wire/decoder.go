// Package wire 负责把 CDP 捕获的请求体分片重组为一段 UTF-8 文本
package wire

import (
	"encoding/base64"
	"strings"
)

// Chunk 请求体分片。Bytes 为 base64 编码的字节内容；
// 引用文件的分片（浏览器上传场景）没有 Bytes，解码时被忽略
type Chunk struct {
	Bytes *string `json:"bytes,omitempty"`
	File  *string `json:"file,omitempty"`
}

// ChunkFromBytes 构造携带字节内容的分片
func ChunkFromBytes(b []byte) Chunk {
	s := base64.StdEncoding.EncodeToString(b)
	return Chunk{Bytes: &s}
}

// ChunkFromEncoded 构造携带已编码内容的分片
func ChunkFromEncoded(s string) Chunk {
	return Chunk{Bytes: &s}
}

// Decode 按输入顺序拼接所有字节分片并解码为 UTF-8 文本。
// 输入为空或不含任何字节分片时返回 ("", false)。
// 编码异常不中断：base64 解码失败的分片按原文处理，
// 非法 UTF-8 序列以替换符兜底，尽力而为而非中止
func Decode(chunks []Chunk) (string, bool) {
	if len(chunks) == 0 {
		return "", false
	}
	var b strings.Builder
	seen := false
	for _, c := range chunks {
		if c.Bytes == nil {
			continue
		}
		seen = true
		if raw, err := base64.StdEncoding.DecodeString(*c.Bytes); err == nil {
			b.Write(raw)
		} else {
			b.WriteString(*c.Bytes)
		}
	}
	if !seen {
		return "", false
	}
	return strings.ToValidUTF8(b.String(), "�"), true
}
