package filter

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/auditoryaid/voicetray/internal/audio"
	"github.com/auditoryaid/voicetray/internal/config"
)

// The transform service exposes one bidirectional stream. Frames go up as
// Any-packed BytesValue messages and come back the same way, preceded by one
// Any-packed StringValue describing the session format.
const transformMethod = "/riva.audio.v1.AudioTransform/TransformStream"

var transformStreamDesc = &grpc.StreamDesc{
	StreamName:    "TransformStream",
	ClientStreams: true,
	ServerStreams: true,
}

// Remote delegates frame filtering to a gRPC transform endpoint. Transport
// failures degrade the affected frame to pass-through rather than killing
// the capture session; the stream is re-established on the next frame.
type Remote struct {
	format audio.Format
	cfg    config.FilterConfig
	log    zerolog.Logger
	conn   *grpc.ClientConn

	mu     sync.Mutex
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// NewRemote dials the configured transform endpoint. The stream itself is
// opened lazily on the first frame.
func NewRemote(cfg config.FilterConfig, format audio.Format, log zerolog.Logger) (*Remote, error) {
	creds, err := channelCredentials(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(cfg.Target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to dial transform endpoint %s: %w", cfg.Target, err)
	}

	return &Remote{
		format: format,
		cfg:    cfg,
		log:    log,
		conn:   conn,
	}, nil
}

func (r *Remote) Apply(f audio.Frame) (audio.Frame, error) {
	if err := checkFrame(r.format, f); err != nil {
		return audio.Frame{}, err
	}

	out, err := r.transform(f.Data)
	if err != nil {
		// Keep audio flowing; the next frame retries with a fresh stream.
		r.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("Remote transform failed, passing frame through")
		r.resetStream()
		return f, nil
	}
	if len(out) != len(f.Data) {
		r.log.Warn().Uint64("seq", f.Seq).Int("got", len(out)).Int("want", len(f.Data)).
			Msg("Remote transform returned wrong frame length, passing frame through")
		r.resetStream()
		return f, nil
	}

	return audio.Frame{Seq: f.Seq, Data: out}, nil
}

func (r *Remote) transform(data []byte) ([]byte, error) {
	stream, err := r.ensureStream()
	if err != nil {
		return nil, err
	}

	req, err := anypb.New(wrapperspb.Bytes(data))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	var resp anypb.Any
	if err := stream.RecvMsg(&resp); err != nil {
		return nil, fmt.Errorf("recv: %w", err)
	}
	var out wrapperspb.BytesValue
	if err := resp.UnmarshalTo(&out); err != nil {
		return nil, fmt.Errorf("unpack: %w", err)
	}
	return out.Value, nil
}

func (r *Remote) ensureStream() (grpc.ClientStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return r.stream, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if md := requestMetadata(r.cfg); md != nil {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	stream, err := r.conn.NewStream(ctx, transformStreamDesc, transformMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	// Session descriptor goes first so the service can size its buffers.
	desc := fmt.Sprintf("pcm_s16le;rate=%d;channels=%d;frame=%d",
		r.format.SampleRate, r.format.Channels, r.format.FrameSize)
	msg, err := anypb.New(wrapperspb.String(desc))
	if err != nil {
		cancel()
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		cancel()
		return nil, fmt.Errorf("send session descriptor: %w", err)
	}

	r.stream = stream
	r.cancel = cancel
	return stream, nil
}

func (r *Remote) resetStream() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.stream = nil
	r.cancel = nil
}

// Close tears down the stream and the underlying connection.
func (r *Remote) Close() error {
	r.resetStream()
	return r.conn.Close()
}

// requestMetadata builds the auth headers for hosted endpoints. Returns nil
// when no API key is configured (self-hosted service).
func requestMetadata(cfg config.FilterConfig) metadata.MD {
	if cfg.APIKey == "" {
		return nil
	}
	return metadata.Pairs(
		"authorization", "Bearer "+cfg.APIKey,
		"function-id", cfg.FunctionID,
	)
}

// channelCredentials maps the configured SSL mode onto transport credentials.
func channelCredentials(cfg config.FilterConfig) (credentials.TransportCredentials, error) {
	switch cfg.SSLMode {
	case config.SSLDisabled:
		return insecure.NewCredentials(), nil

	case config.SSLTLS:
		pool, err := rootPool(cfg.SSLRootCA)
		if err != nil {
			return nil, err
		}
		return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil

	case config.SSLMTLS:
		cert, err := tls.LoadX509KeyPair(cfg.SSLCert, cfg.SSLKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		pool, err := rootPool(cfg.SSLRootCA)
		if err != nil {
			return nil, err
		}
		return credentials.NewTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      pool,
		}), nil

	default:
		return nil, fmt.Errorf("unknown ssl mode %q", cfg.SSLMode)
	}
}

func rootPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
