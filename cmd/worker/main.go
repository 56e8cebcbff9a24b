// Command worker evaluates built-in indicator scripts. It reads one request
// from stdin and writes one response to stdout; diagnostics go to stderr.
//
//	worker etc/indicators/ema/indicator.yaml < request.json
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"chartlab-api/pkg/indicator"
)

const maxRequestBytes = 64 << 20

func main() {
	log.SetFlags(0)
	log.SetPrefix("[worker] ")
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	resp, err := handle(args, stdin)
	if err != nil {
		log.Printf("%v", err)
		resp = &response{OK: false, Error: asEvalError(err)}
	}
	if err := json.NewEncoder(stdout).Encode(resp); err != nil {
		log.Printf("write response: %v", err)
		return 1
	}
	return 0
}

func handle(args []string, stdin io.Reader) (*response, error) {
	if len(args) != 1 {
		return nil, inputError("usage: worker <indicator.yaml>")
	}
	script, err := loadScript(args[0])
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxRequestBytes))
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var req indicator.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, inputError("request is not valid JSON: %v", err)
	}
	if req.APIVersion != 0 && req.APIVersion != indicator.APIVersion {
		return nil, inputError("unsupported apiVersion %d", req.APIVersion)
	}
	return evaluate(script, req)
}

func asEvalError(err error) *evalError {
	var e *evalError
	if errors.As(err, &e) {
		return e
	}
	return &evalError{Type: "IndicatorError", Message: err.Error()}
}
