package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/gateway"
)

const defaultGatewayAddr = "http://localhost:18080"

func addrFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "addr",
		Usage:   "Address of a running gateway",
		Value:   defaultGatewayAddr,
		Sources: cli.EnvVars("LLM_GATEWAY_ADDR"),
	}
}

func budgetCommand() *cli.Command {
	return &cli.Command{
		Name:  "budget",
		Usage: "Show spend against the daily and monthly budgets",
		Flags: []cli.Flag{addrFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var resp gateway.BudgetResponse
			if err := callGateway(ctx, cmd.String("addr"), http.MethodGet, "/v1/budget", nil, &resp); err != nil {
				return err
			}
			printBudget(cmd.Root().Writer, resp)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Set a budget limit",
				Flags: []cli.Flag{
					addrFlag(),
					&cli.StringFlag{Name: "window", Usage: "daily or monthly", Required: true},
					&cli.FloatFlag{Name: "amount", Usage: "Limit in USD, 0 for none", Required: true},
					&cli.FloatFlag{Name: "threshold", Usage: "Warning threshold in USD (default 80% of amount)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					req := gateway.BudgetRequest{Window: cmd.String("window"), Amount: cmd.Float("amount")}
					if cmd.IsSet("threshold") {
						t := cmd.Float("threshold")
						req.Threshold = &t
					}
					var resp gateway.BudgetResponse
					if err := callGateway(ctx, cmd.String("addr"), http.MethodPut, "/v1/budget", req, &resp); err != nil {
						return err
					}
					printSuccess(fmt.Sprintf("%s budget set to $%.2f", req.Window, req.Amount))
					printBudget(cmd.Root().Writer, resp)
					return nil
				},
			},
		},
	}
}

// callGateway sends a JSON request to a running gateway and decodes the reply into out.
func callGateway(ctx context.Context, addr, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(addr, "/")+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var eb struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &eb) == nil && eb.Error.Message != "" {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, eb.Error.Message)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func printBudget(w io.Writer, resp gateway.BudgetResponse) {
	printWindow(w, "Daily", resp.Status.Daily)
	printWindow(w, "Monthly", resp.Status.Monthly)
}

func printWindow(w io.Writer, name string, s accounting.WindowStatus) {
	if s.Budget <= 0 {
		fmt.Fprintf(w, "%-8s $%.4f spent (no limit)\n", name, s.Cost)
		return
	}
	state := "ok"
	switch {
	case s.Exceeded:
		state = "EXCEEDED"
	case s.Warning:
		state = "warning"
	}
	fmt.Fprintf(w, "%-8s $%.4f / $%.2f (%.1f%%) %s\n", name, s.Cost, s.Budget, s.Percentage, state)
}
