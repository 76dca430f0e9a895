package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
)

// multipartPart is one field of a multipart/form-data body. Exactly one of
// value, path and reader is used.
type multipartPart struct {
	field    string
	fileName string
	value    string
	path     string
	reader   io.Reader
}

// FormField adds a text field to a multipart/form-data body. Fields and
// files are written in the order they were added.
//
// Example:
//
//	resp, err := client.Request("documents").
//	    FormField("title", "Q4 report").
//	    File("document", "/tmp/q4.pdf").
//	    Post(ctx)
func (r *Request) FormField(name, value string) *Request {
	r.resetBodyFor(multipartBody)
	r.parts = append(r.parts, multipartPart{field: name, value: value})
	return r
}

// File adds a file part read from path when the request is sent.
func (r *Request) File(field, path string) *Request {
	r.resetBodyFor(multipartBody)
	r.parts = append(r.parts, multipartPart{field: field, fileName: filepath.Base(path), path: path})
	return r
}

// FileReader adds a file part read from reader when the request is sent.
// A request with a FileReader part can only be sent once.
func (r *Request) FileReader(field, fileName string, reader io.Reader) *Request {
	r.resetBodyFor(multipartBody)
	r.parts = append(r.parts, multipartPart{field: field, fileName: fileName, reader: reader})
	return r
}

// encodeMultipart writes the parts and returns the body and its content type.
func encodeMultipart(parts []multipartPart) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, p := range parts {
		if p.path == "" && p.reader == nil {
			if err := w.WriteField(p.field, p.value); err != nil {
				return nil, "", err
			}
			continue
		}

		part, err := w.CreateFormFile(p.field, p.fileName)
		if err != nil {
			return nil, "", err
		}
		if err := copyPart(part, p); err != nil {
			return nil, "", fmt.Errorf("multipart field %q: %w", p.field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func copyPart(dst io.Writer, p multipartPart) error {
	if p.reader != nil {
		_, err := io.Copy(dst, p.reader)
		return err
	}

	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return err
}
