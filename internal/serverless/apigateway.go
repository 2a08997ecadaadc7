// Package serverless runs the relay inside AWS Lambda behind API Gateway.
package serverless

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	echoadapter "github.com/awslabs/aws-lambda-go-api-proxy/echo"
	"github.com/labstack/echo/v4"
)

// Payload format versions accepted by API Gateway Lambda integrations.
const (
	PayloadREST = "1.0"
	PayloadHTTP = "2.0"
)

// Adapter serves API Gateway events through an Echo instance. REST APIs send
// payload format 1.0, HTTP APIs send 2.0.
type Adapter struct {
	rest *echoadapter.EchoLambda
	http *echoadapter.EchoLambdaV2
}

// NewAdapter wraps e.
func NewAdapter(e *echo.Echo) *Adapter {
	return &Adapter{
		rest: echoadapter.New(e),
		http: echoadapter.NewV2(e),
	}
}

// Invoke serves one REST API event.
func (a *Adapter) Invoke(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return a.rest.ProxyWithContext(ctx, ev)
}

// InvokeHTTP serves one HTTP API event.
func (a *Adapter) InvokeHTTP(ctx context.Context, ev events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return a.http.ProxyWithContext(ctx, ev)
}

// Handler returns the Lambda handler for the given payload format version.
func (a *Adapter) Handler(payload string) (any, error) {
	switch payload {
	case PayloadREST:
		return a.Invoke, nil
	case PayloadHTTP:
		return a.InvokeHTTP, nil
	default:
		return nil, fmt.Errorf("unsupported payload format version %q", payload)
	}
}
