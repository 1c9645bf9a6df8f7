package inference

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/metrics"
)

// Fully qualified gRPC method names served by the inference sidecar.
const (
	VisionService = "broscore.inference.v1.Vision"
	SpeechService = "broscore.inference.v1.Speech"

	MethodDetect     = "/" + VisionService + "/Detect"
	MethodCaption    = "/" + VisionService + "/Caption"
	MethodMatch      = "/" + VisionService + "/Match"
	MethodTranscribe = "/" + SpeechService + "/Transcribe"
)

// Dial returns a client connection to an inference sidecar.
func Dial(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("inference.dial", "", err)
		logger.Error("failed to dial inference sidecar", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return conn, nil
}

// Client calls the sidecar's vision and speech services over one or two
// connections.
type Client struct {
	vision  grpc.ClientConnInterface
	speech  grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient builds a client. speech may be the same connection as vision.
func NewClient(vision, speech grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		vision:  vision,
		speech:  speech,
		timeout: timeout,
		logger:  logger.Named("inference"),
	}
}

var (
	_ Vision = (*Client)(nil)
	_ Speech = (*Client)(nil)
)

func (c *Client) Detect(ctx context.Context, image []byte) ([]string, error) {
	resp := &structpb.Struct{}
	if err := c.invoke(ctx, c.vision, "detect", MethodDetect, wrapperspb.Bytes(image), resp); err != nil {
		return nil, err
	}

	raw := resp.GetFields()["labels"].GetListValue().GetValues()
	labels := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			labels = append(labels, s.StringValue)
		}
	}
	return labels, nil
}

func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	resp := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, c.vision, "caption", MethodCaption, wrapperspb.Bytes(image), resp); err != nil {
		return "", err
	}
	return resp.GetValue(), nil
}

func (c *Client) Match(ctx context.Context, image []byte, prompts []string) ([]float64, error) {
	promptValues := make([]interface{}, len(prompts))
	for i, p := range prompts {
		promptValues[i] = p
	}
	req, err := structpb.NewStruct(map[string]interface{}{
		"image":   base64.StdEncoding.EncodeToString(image),
		"prompts": promptValues,
	})
	if err != nil {
		return nil, logging.NewOperationError("inference.match", logging.RequestIDFromContext(ctx), err)
	}

	resp := &structpb.ListValue{}
	if err := c.invoke(ctx, c.vision, "match", MethodMatch, req, resp); err != nil {
		return nil, err
	}

	values := resp.GetValues()
	if len(values) != len(prompts) {
		err := fmt.Errorf("matcher returned %d logits for %d prompts", len(values), len(prompts))
		return nil, logging.NewOperationError("inference.match", logging.RequestIDFromContext(ctx), err)
	}
	logits := make([]float64, len(values))
	for i, v := range values {
		logits[i] = v.GetNumberValue()
	}
	return logits, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp := &wrapperspb.StringValue{}
	if err := c.invoke(ctx, c.speech, "transcribe", MethodTranscribe, wrapperspb.Bytes(audio), resp); err != nil {
		return "", err
	}
	return resp.GetValue(), nil
}

func (c *Client) invoke(ctx context.Context, conn grpc.ClientConnInterface, model, method string, req, resp interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := conn.Invoke(ctx, method, req, resp)
	metrics.ObserveInference(model, time.Since(start), err)
	if err != nil {
		requestID := logging.RequestIDFromContext(ctx)
		wrapped := logging.NewOperationError("inference."+model, requestID, err)
		c.logger.Error("inference call failed", zap.Error(wrapped), zap.String("method", method))
		return wrapped
	}
	return nil
}
