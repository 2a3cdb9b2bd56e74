package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"github.com/diodelink/diodelink/internal/transport"
)

const (
	metadataNameHeader      = "Metadata-Name"
	metadataEncryptedHeader = "Metadata-Encrypted"
)

// ListTransferables fetches one page of transferables. Zero page or pageSize
// means the server default.
func (c *Client) ListTransferables(ctx context.Context, page, pageSize int) (*TransferableList, error) {
	query := map[string][]string{}
	if page > 0 {
		query["page"] = []string{strconv.Itoa(page)}
	}
	if pageSize > 0 {
		query["pageSize"] = []string{strconv.Itoa(pageSize)}
	}

	resp, err := c.pipeline.Do(ctx, &transport.Request{
		Method:     http.MethodGet,
		Path:       "/transferables/",
		Query:      query,
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	var list TransferableList
	if err := resp.Decode(&list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetTransferable fetches a single transferable by id.
func (c *Client) GetTransferable(ctx context.Context, id string) (*Transferable, error) {
	resp, err := c.pipeline.Do(ctx, &transport.Request{
		Method:     http.MethodGet,
		Path:       "/transferables/" + id + "/",
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	var t Transferable
	if err := resp.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTransferable removes one transferable from the gateway.
func (c *Client) DeleteTransferable(ctx context.Context, id string) error {
	_, err := c.pipeline.Do(ctx, &transport.Request{
		Method:     http.MethodDelete,
		Path:       "/transferables/" + id + "/",
		Idempotent: true,
	})
	return err
}

// DeleteAllTransferables removes every transferable owned by the caller.
func (c *Client) DeleteAllTransferables(ctx context.Context) error {
	_, err := c.pipeline.Do(ctx, &transport.Request{
		Method:     http.MethodDelete,
		Path:       "/transferables/",
		Idempotent: true,
	})
	return err
}

// CreatePlainTransferable streams an unencrypted file body to the gateway in
// a single request. The body callback must return a fresh reader on each call.
func (c *Client) CreatePlainTransferable(ctx context.Context, name string, size int64, body func() (io.Reader, error)) (*Transferable, error) {
	resp, err := c.pipeline.Do(ctx, &transport.Request{
		Method:        http.MethodPost,
		Path:          "/transferables/",
		Header:        http.Header{metadataNameHeader: []string{encodeFilename(name)}},
		Body:          body,
		ContentType:   "application/octet-stream",
		ContentLength: size,
		NoTimeout:     true,
	})
	if err != nil {
		return nil, err
	}
	var t Transferable
	if err := resp.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// InitMultipartUpload opens an encrypted upload session. The response carries
// the server-chosen part size every subsequent chunk must honor.
func (c *Client) InitMultipartUpload(ctx context.Context, name string) (*MultipartUpload, error) {
	body, contentType := emptyFormBody()
	resp, err := c.pipeline.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   "/transferables/init-multipart-upload/",
		Header: http.Header{
			metadataNameHeader:      []string{encodeFilename(name)},
			metadataEncryptedHeader: []string{"true"},
		},
		Body:        body,
		ContentType: contentType,
		NoTimeout:   true,
	})
	if err != nil {
		return nil, err
	}
	var up MultipartUpload
	if err := resp.Decode(&up); err != nil {
		return nil, err
	}
	return &up, nil
}

// SendFilePart uploads one ciphertext chunk as a multipart form. Never routed
// through the retrying client: a silent retransmission would desynchronize
// the server-side part sequence.
func (c *Client) SendFilePart(ctx context.Context, up *MultipartUpload, part []byte) error {
	body, contentType, size, err := filePartBody(part)
	if err != nil {
		return err
	}
	_, err = c.pipeline.Do(ctx, &transport.Request{
		Method:        http.MethodPost,
		Path:          "/transferables/" + up.ID + "/file-part/",
		Header:        http.Header{metadataNameHeader: []string{encodeFilename(up.Filename)}},
		Body:          body,
		ContentType:   contentType,
		ContentLength: size,
		NoTimeout:     true,
	})
	return err
}

// FinalizeMultipartUpload asks the gateway to assemble the received parts.
// The completion metadata travels in headers, matching the init request.
func (c *Client) FinalizeMultipartUpload(ctx context.Context, up *MultipartUpload, completion *MultipartCompletion) (*Transferable, error) {
	resp, err := c.pipeline.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		Path:   "/transferables/" + up.ID + "/finalize-multipart-upload/",
		Header: http.Header{
			metadataNameHeader:                 []string{encodeFilename(up.Filename)},
			metadataEncryptedHeader:            []string{"true"},
			"Metadata-Parts-Count":             []string{strconv.FormatInt(completion.PartsCount, 10)},
			"Metadata-Main-Part-Size":          []string{strconv.FormatInt(completion.MainPartSize, 10)},
			"Metadata-Last-Part-Size":          []string{strconv.FormatInt(completion.LastPartSize, 10)},
			"Metadata-Encrypted-Size":          []string{strconv.FormatInt(completion.EncryptedSize, 10)},
			"Metadata-Header":                  []string{completion.Header},
			"Metadata-Encrypted-Symmetric-Key": []string{completion.WrappedKey},
		},
		NoTimeout: true,
	})
	if err != nil {
		return nil, err
	}
	var t Transferable
	if err := resp.Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeFilename percent-encodes the name so arbitrary Unicode survives the
// ASCII-only header value.
func encodeFilename(name string) string {
	return url.PathEscape(name)
}

// filePartBody builds a rebuildable multipart form carrying one chunk under
// the file_part field.
func filePartBody(part []byte) (func() (io.Reader, error), string, int64, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	field, err := w.CreateFormFile("file_part", "blob")
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to build file part form: %w", err)
	}
	if _, err := field.Write(part); err != nil {
		return nil, "", 0, fmt.Errorf("failed to build file part form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", 0, fmt.Errorf("failed to build file part form: %w", err)
	}
	body := func() (io.Reader, error) {
		return bytes.NewReader(buf.Bytes()), nil
	}
	return body, w.FormDataContentType(), int64(buf.Len()), nil
}

// emptyFormBody builds an empty multipart form, matching what the gateway
// expects on session init.
func emptyFormBody() (func() (io.Reader, error), string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.Close()
	return func() (io.Reader, error) {
		return bytes.NewReader(buf.Bytes()), nil
	}, w.FormDataContentType()
}
