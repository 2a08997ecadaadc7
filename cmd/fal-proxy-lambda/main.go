package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"fal-proxy-go/internal/app"
	"fal-proxy-go/internal/config"
	"fal-proxy-go/internal/handler"
	"fal-proxy-go/internal/serverless"
)

// Set by goreleaser ldflags.
var version = "dev"

type cli struct {
	config.CLI `embed:""`

	Payload string `kong:"help='API Gateway payload format version: 1.0 (REST API) or 2.0 (HTTP API).',enum='1.0,2.0',default='1.0',env='PAYLOAD_FORMAT_VERSION'"`
}

func main() {
	// Lambda passes no arguments; configuration comes from the environment.
	var args cli
	kong.Parse(&args,
		kong.Name("fal-proxy-lambda"),
		kong.Description("fal API relay for AWS Lambda behind API Gateway."),
		kong.Vars{"version": version},
	)

	var e *echo.Echo
	fxApp := fx.New(
		fx.Supply(&args.CLI, handler.Version(version)),
		app.Module,
		fx.Populate(&e),
		fx.NopLogger,
	)
	if err := fxApp.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fal-proxy-lambda:", err)
		os.Exit(1)
	}

	h, err := serverless.NewAdapter(e).Handler(args.Payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fal-proxy-lambda:", err)
		os.Exit(1)
	}
	awslambda.Start(h)
}
