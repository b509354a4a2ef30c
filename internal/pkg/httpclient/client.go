// internal/pkg/httpclient/client.go

package httpclient

import (
	"fmt"
	"net/http"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client 是一个可追踪的HTTP客户端，满足 tgbotapi.HTTPClient 接口
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	// SpanPrefix 用于区分调用方，例如 "telegram"
	SpanPrefix string
}

// NewClient 创建一个新的客户端实例。
// 不设置 http.Client.Timeout，超时完全由请求的 context 控制；
// 长轮询请求本身会挂起数十秒。
func NewClient(tracer trace.Tracer, spanPrefix string) *Client {
	return &Client{
		Tracer:     tracer,
		SpanPrefix: spanPrefix,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Do 为每次请求创建一个 client span。
// span 名只使用 URL 的最后一段，Bot API 的 URL 中带有 token，不能写进追踪数据。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	method := path.Base(req.URL.Path)
	ctx, span := c.Tracer.Start(req.Context(), fmt.Sprintf("%s.%s", c.SpanPrefix, method),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.host", req.URL.Host),
		attribute.String("rpc.method", method),
	)

	resp, err := c.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}
