package ingest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/yeisme/fitsvault/pkg/internal/blob"
	"github.com/yeisme/fitsvault/pkg/internal/fits"
	"github.com/yeisme/fitsvault/pkg/internal/model"
	"github.com/yeisme/fitsvault/pkg/internal/workqueue"
)

// applyHeaderUpdate 就地修改文件头. md5 均针对解压后的内容.
// 校验全部通过后才写回存储，任何不一致都不留下部分修改. 返回文件是否被修改.
func (in *Ingester) applyHeaderUpdate(ctx context.Context, e *model.IngestQueueEntry) (bool, error) {
	if e.MD5Before != "" && e.MD5Before == e.MD5After {
		return false, nil
	}

	var upd fits.HeaderUpdate
	if err := sonic.UnmarshalString(e.HeaderUpdate, &upd); err != nil {
		return false, fmt.Errorf("%w: %v", fits.ErrInvalidUpdate, err)
	}

	changes, err := upd.Changes()
	if err != nil {
		return false, err
	}

	if len(changes) == 0 {
		return false, nil
	}

	rc, err := blob.OpenUncompressed(ctx, in.store, e.Path, e.Filename)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", ErrFileMissing, e.Filename)
		}

		return false, workqueue.Transient(fmt.Errorf("open %s: %w", e.Filename, err))
	}
	defer rc.Close()

	before := md5.New()
	after := md5.New()

	var edited bytes.Buffer

	editor := &fits.KeywordEditor{RejectNew: upd.RejectNew}
	if err := editor.Edit(io.MultiWriter(&edited, after), io.TeeReader(rc, before), changes); err != nil {
		return false, fmt.Errorf("edit %s: %w", e.Filename, err)
	}

	beforeSum := hex.EncodeToString(before.Sum(nil))
	afterSum := hex.EncodeToString(after.Sum(nil))

	if e.MD5Before != "" && e.MD5Before != beforeSum {
		return false, fmt.Errorf("%w: %s before edit is %s, expected %s", ErrMD5Mismatch, e.Filename, beforeSum, e.MD5Before)
	}

	if e.MD5After != "" && e.MD5After != afterSum {
		return false, fmt.Errorf("%w: %s after edit is %s, expected %s", ErrMD5Mismatch, e.Filename, afterSum, e.MD5After)
	}

	if beforeSum == afterSum {
		return false, nil
	}

	body := io.Reader(&edited)
	size := int64(edited.Len())

	if blob.IsCompressed(e.Filename) {
		var packed bytes.Buffer
		if _, err := blob.Compress(&packed, &edited); err != nil {
			return false, err
		}

		body, size = &packed, int64(packed.Len())
	}

	if err := in.store.Put(ctx, e.Path, e.Filename, body, size); err != nil {
		return false, workqueue.Transient(fmt.Errorf("write %s: %w", e.Filename, err))
	}

	return true, nil
}
