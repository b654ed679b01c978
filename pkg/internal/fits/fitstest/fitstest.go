// Package fitstest 构造测试用的最小 FITS 文件.
package fitstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// Card 一张关键字卡片.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// HDU 一个 HDU 的定义. Pixels 非空时写入 BITPIX=16 的二维图像.
type HDU struct {
	Cards  []Card
	Width  int
	Height int
	Pixels []int16
}

// KV 以键值对快速构造卡片.
func KV(kv ...any) []Card {
	cards := make([]Card, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		cards = append(cards, Card{Key: kv[i].(string), Value: kv[i+1]})
	}

	return cards
}

// Primary 只有 primary 头、无数据的文件.
func Primary(cards ...Card) []byte {
	return Build(HDU{Cards: cards})
}

// Build 依次写出各 HDU，第一个为 primary.
func Build(hdus ...HDU) []byte {
	var buf bytes.Buffer

	for i, h := range hdus {
		var cards []Card

		naxis := 0
		if len(h.Pixels) > 0 {
			naxis = 2
		}

		if i == 0 {
			cards = append(cards, Card{Key: "SIMPLE", Value: true})
		} else {
			cards = append(cards, Card{Key: "XTENSION", Value: "IMAGE"})
		}

		cards = append(cards, Card{Key: "BITPIX", Value: 16}, Card{Key: "NAXIS", Value: naxis})
		if naxis == 2 {
			cards = append(cards, Card{Key: "NAXIS1", Value: h.Width}, Card{Key: "NAXIS2", Value: h.Height})
		}

		if i == 0 {
			cards = append(cards, Card{Key: "EXTEND", Value: true})
		} else {
			cards = append(cards, Card{Key: "PCOUNT", Value: 0}, Card{Key: "GCOUNT", Value: 1})
		}

		cards = append(cards, h.Cards...)

		var hdr strings.Builder
		for _, c := range cards {
			hdr.WriteString(format(c))
		}

		hdr.WriteString(fmt.Sprintf("%-80s", "END"))
		buf.WriteString(pad(hdr.String(), ' '))

		if naxis == 2 {
			var data bytes.Buffer
			_ = binary.Write(&data, binary.BigEndian, h.Pixels)
			buf.WriteString(pad(data.String(), 0))
		}
	}

	return buf.Bytes()
}

func pad(s string, fill byte) string {
	if rem := len(s) % blockSize; rem != 0 {
		s += strings.Repeat(string(fill), blockSize-rem)
	}

	return s
}

func format(c Card) string {
	var v string

	switch x := c.Value.(type) {
	case string:
		s := strings.ReplaceAll(x, "'", "''")
		if len(s) < 8 {
			s += strings.Repeat(" ", 8-len(s))
		}

		v = "'" + s + "'"
	case bool:
		v = fmt.Sprintf("%20s", "F")
		if x {
			v = fmt.Sprintf("%20s", "T")
		}
	case int:
		v = fmt.Sprintf("%20d", x)
	case float64:
		f := strconv.FormatFloat(x, 'G', -1, 64)
		if !strings.ContainsAny(f, ".E") {
			f += ".0"
		}

		v = fmt.Sprintf("%20s", f)
	default:
		v = fmt.Sprintf("'%v'", x)
	}

	card := fmt.Sprintf("%-8s= %s", c.Key, v)
	if c.Comment != "" {
		card += " / " + c.Comment
	}

	if len(card) > cardSize {
		card = card[:cardSize]
	}

	return fmt.Sprintf("%-80s", card)
}
