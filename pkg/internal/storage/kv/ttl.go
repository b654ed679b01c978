package kv

import (
	"bytes"
	"encoding/binary"
	"time"
)

// 没有原生 TTL 的后端 (memory、nats、groupcache) 把到期时间写在值前面:
// magic + 8 字节大端 unix 毫秒 + 原始值. 不带 magic 的值永不过期.
var expiryMagic = []byte("\x00fvx1")

const expiryHeader = 5 + 8

func wrapExpiry(value []byte, ttl time.Duration, now time.Time) []byte {
	if ttl <= 0 {
		return bytes.Clone(value)
	}

	out := make([]byte, expiryHeader+len(value))
	copy(out, expiryMagic)
	binary.BigEndian.PutUint64(out[len(expiryMagic):], uint64(now.Add(ttl).UnixMilli()))
	copy(out[expiryHeader:], value)

	return out
}

// unwrapExpiry 返回原始值，ok 为 false 表示已过期.
func unwrapExpiry(b []byte, now time.Time) (value []byte, ok bool) {
	if len(b) < expiryHeader || !bytes.HasPrefix(b, expiryMagic) {
		return b, true
	}

	exp := int64(binary.BigEndian.Uint64(b[len(expiryMagic):expiryHeader]))
	if now.UnixMilli() >= exp {
		return nil, false
	}

	return b[expiryHeader:], true
}
