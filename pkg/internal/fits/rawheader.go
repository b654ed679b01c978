package fits

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// BlockSize FITS 逻辑记录长度.
	BlockSize = 2880
	// CardSize 一张关键字卡片的长度.
	CardSize = 80

	cardsPerBlock = BlockSize / CardSize
)

// RawHeader 一个 HDU 头的逐字卡片与其在文件中的位置.
type RawHeader struct {
	// Offset 头起始字节偏移
	Offset int64
	// Cards 不含填充的卡片，END 为最后一张
	Cards []string
	// Blocks 头占用的块数
	Blocks int
	// DataSize 数据段字节数，不含填充
	DataSize int64
}

// End END 卡片的下标.
func (h *RawHeader) End() int {
	return len(h.Cards) - 1
}

// Value 返回关键字的原始值文本，字符串去掉引号.
func (h *RawHeader) Value(key string) (string, bool) {
	for _, c := range h.Cards {
		if cardKey(c) == key {
			return cardValue(c), true
		}
	}

	return "", false
}

// ScanHeaders 顺序读取全部 HDU 头. 数据段直接跳过.
func ScanHeaders(r io.Reader) ([]RawHeader, error) {
	br := bufio.NewReaderSize(r, BlockSize*4)

	var (
		out    []RawHeader
		offset int64
		block  = make([]byte, BlockSize)
	)

	for {
		h := RawHeader{Offset: offset}

		for done := false; !done; {
			if _, err := io.ReadFull(br, block); err != nil {
				if errors.Is(err, io.EOF) && len(h.Cards) == 0 && len(out) > 0 {
					return out, nil
				}

				return out, fmt.Errorf("%w: truncated header at %d", ErrNotFITS, offset)
			}

			offset += BlockSize
			h.Blocks++

			for i := 0; i < cardsPerBlock; i++ {
				card := string(block[i*CardSize : (i+1)*CardSize])
				if len(h.Cards) == 0 && i == 0 && !validFirstCard(card, len(out) == 0) {
					return out, fmt.Errorf("%w: bad first card %q", ErrNotFITS, strings.TrimSpace(card))
				}

				h.Cards = append(h.Cards, card)

				if cardKey(card) == "END" {
					done = true
					break
				}
			}
		}

		h.DataSize = dataSize(&h)
		out = append(out, h)

		padded := padTo(h.DataSize)
		if padded == 0 {
			continue
		}

		n, err := io.CopyN(io.Discard, br, padded)
		offset += n

		if err != nil {
			// 最后一个 HDU 缺填充时仍视为完整
			if errors.Is(err, io.EOF) && n >= h.DataSize {
				return out, nil
			}

			return out, fmt.Errorf("%w: truncated data at %d", ErrNotFITS, offset)
		}
	}
}

func validFirstCard(card string, primary bool) bool {
	if primary {
		return cardKey(card) == "SIMPLE"
	}

	return cardKey(card) == "XTENSION"
}

// FullText 返回全部 HDU 头的逐字文本，每张卡片一行，HDU 之间空行分隔.
func FullText(r io.Reader) (string, error) {
	hdrs, err := ScanHeaders(r)
	if err != nil && len(hdrs) == 0 {
		return "", err
	}

	var sb strings.Builder

	for i, h := range hdrs {
		if i > 0 {
			sb.WriteString("\n")
		}

		for _, c := range h.Cards {
			sb.WriteString(strings.TrimRight(c, " "))
			sb.WriteString("\n")
		}
	}

	return sb.String(), nil
}

// IsFITS 判断开头是否为 SIMPLE 卡片.
func IsFITS(head []byte) bool {
	return len(head) >= CardSize && bytes.HasPrefix(head, []byte("SIMPLE  ="))
}

func padTo(n int64) int64 {
	if rem := n % BlockSize; rem != 0 {
		return n + BlockSize - rem
	}

	return n
}

func cardKey(card string) string {
	if len(card) < 8 {
		return strings.TrimSpace(card)
	}

	return strings.TrimSpace(card[:8])
}

// cardValue 解析 "KEY     = value / comment" 中的 value.
func cardValue(card string) string {
	if len(card) < 10 || card[8:10] != "= " {
		return ""
	}

	v := strings.TrimSpace(card[10:])
	if strings.HasPrefix(v, "'") {
		var sb strings.Builder

		for i := 1; i < len(v); i++ {
			if v[i] == '\'' {
				if i+1 < len(v) && v[i+1] == '\'' {
					sb.WriteByte('\'')
					i++

					continue
				}

				break
			}

			sb.WriteByte(v[i])
		}

		return strings.TrimRight(sb.String(), " ")
	}

	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}

	return strings.TrimSpace(v)
}

func cardInt(h *RawHeader, key string, def int64) int64 {
	v, ok := h.Value(key)
	if !ok {
		return def
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}

	return n
}

// dataSize |BITPIX|/8 * GCOUNT * (PCOUNT + NAXIS1*...*NAXISn).
func dataSize(h *RawHeader) int64 {
	naxis := cardInt(h, "NAXIS", 0)
	if naxis == 0 {
		return 0
	}

	n := int64(1)
	for i := int64(1); i <= naxis; i++ {
		n *= cardInt(h, "NAXIS"+strconv.FormatInt(i, 10), 0)
	}

	bitpix := cardInt(h, "BITPIX", 8)
	if bitpix < 0 {
		bitpix = -bitpix
	}

	return bitpix / 8 * cardInt(h, "GCOUNT", 1) * (cardInt(h, "PCOUNT", 0) + n)
}
