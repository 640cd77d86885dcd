package security

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

// ErrImageTooLarge は画像がサイズ上限を超えたことを示す。
var ErrImageTooLarge = errors.New("image exceeds size limit")

// ImageFetcher は外部URLから商品画像を取得し、base64エンコードして返す。
type ImageFetcher struct {
	client   *http.Client
	validate func(rawURL string) error
	maxSize  int64
}

// NewImageFetcher はSSRF防止付きのImageFetcherを生成する。
func NewImageFetcher(guard SSRFGuard, timeout time.Duration, maxSize int64) *ImageFetcher {
	return newImageFetcher(guard.NewSafeClient(timeout), guard.ValidateURL, maxSize)
}

func newImageFetcher(client *http.Client, validate func(string) error, maxSize int64) *ImageFetcher {
	return &ImageFetcher{client: client, validate: validate, maxSize: maxSize}
}

// FetchBase64 は画像を取得してbase64文字列を返す。
// 2xx以外のステータス、image/*以外のContent-Type、サイズ上限超過はエラーとする。
func (f *ImageFetcher) FetchBase64(ctx context.Context, rawURL string) (string, error) {
	if err := f.validate(rawURL); err != nil {
		return "", fmt.Errorf("image URL rejected: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image request returned status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || len(mediaType) < 6 || mediaType[:6] != "image/" {
			return "", fmt.Errorf("unexpected content type: %q", ct)
		}
	}
	if resp.ContentLength > f.maxSize {
		return "", ErrImageTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return "", ErrImageTooLarge
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty image body")
	}

	return base64.StdEncoding.EncodeToString(data), nil
}
