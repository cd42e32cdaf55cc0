// Command llm-gateway routes generation requests across LLM providers.
//
// COMMANDS:
//   - serve:     run the HTTP/WebSocket gateway
//   - benchmark: score enabled providers on one task type
//   - budget:    show or change spend limits on a running gateway
package main

import (
	"context"
	"os"
)

func main() {
	app := rootCommand()
	if err := app.Run(context.Background(), os.Args); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}
