package quicmedia

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Corten-Browser/Corten-MediaEngine/pkg/mediaflow"
	"github.com/asticode/go-astikit"
	"github.com/quic-go/quic-go"
)

// ALPN protocol negotiated by both ends
const NextProto = "mediaflow"

type Options struct {
	// NextProtos is overwritten
	TLSConfig *tls.Config
}

// Register registers the "quic" source capability. Container bytes are read from the first
// unidirectional stream opened by the server. Certificate verification can be disabled with
// the url's "insecure" query parameter.
func Register(c *mediaflow.Capabilities, o Options) {
	c.RegisterSource(mediaflow.SourceCapability{
		Name: "quic",
		Open: func(ctx context.Context, s mediaflow.Source) (mediaflow.SourceReader, error) {
			return Dial(ctx, s.URL, o)
		},
		Schemes: []string{"quic"},
	})
}

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,
		MaxIdleTimeout:       30 * time.Second,
	}
}

type streamReadCloser struct {
	conn quic.Connection
	s    quic.ReceiveStream
}

func (rc *streamReadCloser) Read(b []byte) (int, error) {
	return rc.s.Read(b)
}

func (rc *streamReadCloser) Close() error {
	rc.s.CancelRead(0)
	return rc.conn.CloseWithError(0, "")
}

func Dial(ctx context.Context, rawURL string, o Options) (*mediaflow.StreamReader, error) {
	// Parse url
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("quicmedia: parsing url failed: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("quicmedia: no host in %s", rawURL)
	}

	// Create tls config
	tlsConfig := &tls.Config{}
	if o.TLSConfig != nil {
		tlsConfig = o.TLSConfig.Clone()
	}
	tlsConfig.NextProtos = []string{NextProto}
	if v := u.Query().Get("insecure"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			tlsConfig.InsecureSkipVerify = true
		}
	}

	// Dial
	conn, err := quic.DialAddr(ctx, u.Host, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quicmedia: dialing %s failed: %w", u.Host, err)
	}

	// Accept stream
	s, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("quicmedia: accepting stream failed: %w", err)
	}
	return mediaflow.NewStreamReader(&streamReadCloser{
		conn: conn,
		s:    s,
	}, mediaflow.StreamReaderOptions{}), nil
}

// Server sends container bytes to every client on a unidirectional stream
type Server struct {
	c  *astikit.Closer
	l  astikit.CompleteLogger
	ln *quic.Listener
	wg sync.WaitGroup
}

type ServerOptions struct {
	Addr      string
	Logger    astikit.StdLogger
	TLSConfig *tls.Config
}

func Listen(o ServerOptions) (*Server, error) {
	// Create tls config
	if o.TLSConfig == nil {
		return nil, fmt.Errorf("quicmedia: no tls config")
	}
	tlsConfig := o.TLSConfig.Clone()
	tlsConfig.NextProtos = []string{NextProto}

	// Listen
	ln, err := quic.ListenAddr(o.Addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quicmedia: listening on %s failed: %w", o.Addr, err)
	}

	// Create server
	s := &Server{
		c:  astikit.NewCloser(),
		l:  astikit.AdaptStdLogger(o.Logger),
		ln: ln,
	}
	s.c.AddWithError(ln.Close)
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Close() error {
	return s.c.Close()
}

// Serve blocks until ctx is done. open is called once per client.
func (s *Server) Serve(ctx context.Context, open func() (io.ReadCloser, error)) error {
	// Make sure connections are done
	defer s.wg.Wait()

	for {
		// Accept
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quicmedia: accepting connection failed: %w", err)
		}

		// Handle
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.handle(ctx, conn, open); err != nil {
				s.l.WarnC(ctx, fmt.Errorf("quicmedia: handling %s failed: %w", conn.RemoteAddr(), err))
			}
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn quic.Connection, open func() (io.ReadCloser, error)) error {
	// Make sure connection is closed
	defer conn.CloseWithError(0, "")

	// Open
	rc, err := open()
	if err != nil {
		return fmt.Errorf("opening failed: %w", err)
	}
	defer rc.Close()

	// Open stream
	st, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("opening stream failed: %w", err)
	}

	// Copy
	if _, err = io.Copy(st, rc); err != nil {
		st.CancelWrite(0)
		return fmt.Errorf("copying failed: %w", err)
	}

	// Close stream
	if err = st.Close(); err != nil {
		return fmt.Errorf("closing stream failed: %w", err)
	}

	// Wait for the client to close the connection
	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
	}
	return nil
}
