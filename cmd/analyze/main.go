package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/ingest"
	"github.com/joseph-ayodele/car-analyzer/internal/llm"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
	"github.com/joseph-ayodele/car-analyzer/internal/server"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		showRaw = flag.Bool("raw", false, "also print the raw response body")
		remote  = flag.String("remote", "", "analyze through a running carlensd gRPC endpoint (host:port)")
	)
	flag.Usage = func() {
		printError("usage: analyze [-raw] [-remote host:port] <image>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := common.LoadConfig()

	// stdout carries the result; logs go to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *remote != "" {
		os.Exit(runRemote(ctx, *remote, path, cfg.LLM.Timeout))
	}

	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	analyzer := pipeline.NewFromConfig(cfg, logger)
	if err := analyzer.Ready(); err != nil {
		printError("Error: %v\nSet OPENAI_API_KEY in the environment or a .env file.\n", err)
		os.Exit(2)
	}

	u := ingest.NewUsecase(analyzer, cfg.Server.MaxUploadBytes, logger)
	a, err := u.AnalyzeFile(ctx, path)
	if err != nil {
		printFailure(err)
		os.Exit(1)
	}

	printJSON(a.Result.Map())
	if *showRaw {
		fmt.Println("--- raw response ---")
		fmt.Println(prettyRaw(a.Raw))
	}
	if !a.Result.OK() {
		os.Exit(1)
	}
}

func runRemote(ctx context.Context, addr, path string, timeout time.Duration) int {
	data, err := os.ReadFile(path)
	if err != nil {
		printError("Error: %v\n", err)
		return 2
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		printError("Error: connect %s: %v\n", addr, err)
		return 2
	}
	defer conn.Close()

	// the server needs the upstream timeout plus time to prepare the image
	ctx, cancel := context.WithTimeout(ctx, timeout+15*time.Second)
	defer cancel()

	out, err := server.InvokeAnalyze(ctx, conn, data, grpc.MaxCallSendMsgSize(len(data)+1<<20))
	if err != nil {
		printError("Error: %v\n", err)
		return 1
	}
	printJSON(out.AsMap())
	return 0
}

func printFailure(err error) {
	var ae *llm.APIError
	switch {
	case errors.As(err, &ae):
		printError("Error: the model endpoint answered HTTP %d\n%s\n", ae.StatusCode, ae.Body)
	case errors.Is(err, common.ErrTransport):
		printError("Error: could not reach the model endpoint: %v\n", err)
	case errors.Is(err, common.ErrImageDecode):
		printError("Error: the file could not be read as an image: %v\n", err)
	default:
		printError("Error: %v\n", err)
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("Error: encode result: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

func prettyRaw(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(b)
}
