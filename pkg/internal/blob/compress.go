package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// DefaultCompressionLevel bzip2 压缩级别.
const DefaultCompressionLevel = 9

// NewDecompressor 包装 bzip2 解压读取器.
func NewDecompressor(r io.Reader) (io.ReadCloser, error) {
	zr, err := bzip2.NewReader(r, nil)
	if err != nil {
		return nil, fmt.Errorf("open bzip2 stream: %w", err)
	}

	return zr, nil
}

// Compress 把 r 以 bzip2 压缩后写入 w.
func Compress(w io.Writer, r io.Reader) (int64, error) {
	zw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: DefaultCompressionLevel})
	if err != nil {
		return 0, fmt.Errorf("open bzip2 writer: %w", err)
	}

	n, err := io.Copy(zw, r)
	if err != nil {
		_ = zw.Close()
		return n, fmt.Errorf("compress: %w", err)
	}

	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("finish bzip2 stream: %w", err)
	}

	return n, nil
}

// CompressReader 返回一个边读边压缩的流，压缩在后台 goroutine 中完成.
func CompressReader(r io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		_, err := Compress(pw, r)
		_ = pw.CloseWithError(err)
	}()

	return pr
}

// OpenUncompressed 读取文件内容，.bz2 文件透明解压.
func OpenUncompressed(ctx context.Context, s Store, path, name string) (io.ReadCloser, error) {
	rc, err := s.Open(ctx, path, name)
	if err != nil {
		return nil, err
	}

	if !IsCompressed(name) {
		return rc, nil
	}

	zr, err := NewDecompressor(rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}

	return &readCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
}

// OpenCompressed 读取文件并保证输出为 bzip2 流，已压缩文件原样返回.
func OpenCompressed(ctx context.Context, s Store, path, name string) (io.ReadCloser, error) {
	rc, err := s.Open(ctx, path, name)
	if err != nil {
		return nil, err
	}

	if IsCompressed(name) {
		return rc, nil
	}

	zr := CompressReader(rc)

	return &readCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
}

// Summary 一次读取同时得到的磁盘与内容摘要.
type Summary struct {
	FileMD5    string `json:"file_md5"`
	FileSize   int64  `json:"file_size"`
	DataMD5    string `json:"data_md5"`
	DataSize   int64  `json:"data_size"`
	Compressed bool   `json:"compressed"`
}

// Summarize 计算 file_md5/file_size 与解压后的 data_md5/data_size.
func Summarize(ctx context.Context, s Store, path, name string) (Summary, error) {
	rc, err := s.Open(ctx, path, name)
	if err != nil {
		return Summary{}, err
	}
	defer rc.Close()

	return SummarizeReader(rc, IsCompressed(name))
}

// SummarizeReader 对已打开的流计算摘要.
func SummarizeReader(r io.Reader, compressed bool) (Summary, error) {
	fileHash := md5.New()
	fileCount := &countingWriter{}
	raw := io.TeeReader(r, io.MultiWriter(fileHash, fileCount))

	sum := Summary{Compressed: compressed}

	if !compressed {
		if _, err := io.Copy(io.Discard, raw); err != nil {
			return Summary{}, fmt.Errorf("read body: %w", err)
		}

		sum.FileMD5 = hexSum(fileHash)
		sum.FileSize = fileCount.n
		sum.DataMD5 = sum.FileMD5
		sum.DataSize = sum.FileSize

		return sum, nil
	}

	zr, err := NewDecompressor(raw)
	if err != nil {
		return Summary{}, err
	}
	defer zr.Close()

	dataHash := md5.New()

	n, err := io.Copy(dataHash, zr)
	if err != nil {
		return Summary{}, fmt.Errorf("decompress body: %w", err)
	}

	// 读完压缩流尾部可能残留的填充
	if _, err := io.Copy(io.Discard, raw); err != nil {
		return Summary{}, fmt.Errorf("read body: %w", err)
	}

	sum.FileMD5 = hexSum(fileHash)
	sum.FileSize = fileCount.n
	sum.DataMD5 = hexSum(dataHash)
	sum.DataSize = n

	return sum, nil
}

// MD5Reader 返回流的 md5 与长度.
func MD5Reader(r io.Reader) (string, int64, error) {
	h := md5.New()

	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}

	return hexSum(h), n, nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
