package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEmptyInput(t *testing.T) {
	// 无分片
	body, ok := Decode(nil)
	assert.False(t, ok)
	assert.Equal(t, "", body)

	// 仅有文件引用分片，没有任何字节分片
	f := "upload.bin"
	body, ok = Decode([]Chunk{{File: &f}})
	assert.False(t, ok)
	assert.Equal(t, "", body)
}

func TestDecodeSingleChunk(t *testing.T) {
	body, ok := Decode([]Chunk{ChunkFromBytes([]byte(`{"type":"track"}`))})
	assert.True(t, ok)
	assert.Equal(t, `{"type":"track"}`, body)
}

func TestDecodeConcatenatesInOrder(t *testing.T) {
	chunks := []Chunk{
		ChunkFromBytes([]byte(`{"batch":`)),
		ChunkFromBytes([]byte(`[{"type":"track"}]`)),
		ChunkFromBytes([]byte(`}`)),
	}
	body, ok := Decode(chunks)
	assert.True(t, ok)
	assert.Equal(t, `{"batch":[{"type":"track"}]}`, body)
}

func TestDecodeSkipsFileChunks(t *testing.T) {
	// 文件引用分片夹在字节分片之间，被跳过但不影响拼接顺序
	f := "blob"
	chunks := []Chunk{
		ChunkFromBytes([]byte("hello")),
		{File: &f},
		ChunkFromBytes([]byte(" world")),
	}
	body, ok := Decode(chunks)
	assert.True(t, ok)
	assert.Equal(t, "hello world", body)
}

func TestDecodeInvalidBase64FallsBackToRaw(t *testing.T) {
	// 不是合法 base64 的内容按原文处理，不中断解码
	raw := "not-base64!!!"
	body, ok := Decode([]Chunk{ChunkFromEncoded(raw)})
	assert.True(t, ok)
	assert.Equal(t, raw, body)
}

func TestDecodeInvalidUTF8Replaced(t *testing.T) {
	body, ok := Decode([]Chunk{ChunkFromBytes([]byte{'a', 0xff, 0xfe, 'b'})})
	assert.True(t, ok)
	assert.Equal(t, "a�b", body)
}
