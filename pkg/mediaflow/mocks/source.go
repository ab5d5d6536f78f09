package mocks

import (
	"context"
	"sync"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
)

type MockedSourceReader struct {
	closed bool
	Data   []byte
	m      sync.Mutex
	// Returned by Read instead of data when not nil
	OnRead func() error
}

var _ mediaflow.SourceReader = (*MockedSourceReader)(nil)

func NewMockedSourceReader(b []byte) *MockedSourceReader {
	return &MockedSourceReader{Data: b}
}

func (r *MockedSourceReader) Read(ctx context.Context, max int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.OnRead != nil {
		if err := r.OnRead(); err != nil {
			return nil, err
		}
	}

	r.m.Lock()
	defer r.m.Unlock()
	if len(r.Data) == 0 {
		return nil, mediaflow.ErrEndOfStream
	}
	n := min(max, len(r.Data))
	b := r.Data[:n]
	r.Data = r.Data[n:]
	return b, nil
}

func (r *MockedSourceReader) Close() error {
	r.m.Lock()
	defer r.m.Unlock()
	r.closed = true
	return nil
}

func (r *MockedSourceReader) Closed() bool {
	r.m.Lock()
	defer r.m.Unlock()
	return r.closed
}
