package httpclient

import (
	"io"
	"sync/atomic"
)

// releasingBody wraps a streamed response body. The call's resources (its
// timeout context) are released exactly once, on Close or EOF, and the
// number of bytes read is reported.
type releasingBody struct {
	body io.ReadCloser
	read atomic.Int64
	done atomic.Bool

	onRelease func(bytesRead int64)
}

func newReleasingBody(body io.ReadCloser, onRelease func(bytesRead int64)) io.ReadCloser {
	if body == nil {
		onRelease(0)
		return nil
	}

	rb := &releasingBody{body: body, onRelease: onRelease}

	// Protocol upgrades (101) hand back a writable body.
	if _, ok := body.(io.ReadWriteCloser); ok {
		return &releasingReadWriter{releasingBody: rb}
	}
	return rb
}

func (b *releasingBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	b.read.Add(int64(n))
	if err == io.EOF {
		b.release()
	}
	return n, err
}

func (b *releasingBody) Close() error {
	err := b.body.Close()
	b.release()
	return err
}

func (b *releasingBody) release() {
	if b.done.CompareAndSwap(false, true) && b.onRelease != nil {
		b.onRelease(b.read.Load())
	}
}

type releasingReadWriter struct {
	*releasingBody
}

var _ io.ReadWriteCloser = (*releasingReadWriter)(nil)

func (w *releasingReadWriter) Write(p []byte) (int, error) {
	writer, ok := w.body.(io.Writer)
	if !ok {
		return 0, io.ErrClosedPipe
	}
	return writer.Write(p)
}
