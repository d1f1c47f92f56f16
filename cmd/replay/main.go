// Replay tool for checking a running Redress server against known cases.
//
// Usage:
//
//	go run ./cmd/replay -csv cases.csv -url http://localhost:8080
//
// Each CSV row is one named-scenario case. Columns are extracted field names
// (scenario_type, transaction_amount, ...) plus:
//
//	case               optional label printed on mismatch
//	expected_amount    compensation the server should return; "none" when ineligible
//
// The tool posts every row to /compensation/calculate and reports matches.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Reserved CSV columns.
const (
	ColumnCase     = "case"
	ColumnExpected = "expected_amount"
)

// Case is one row of the replay file.
type Case struct {
	Line     int
	Name     string
	Fields   map[string]string
	Expected *decimal.Decimal
}

// Outcome is the result of replaying one case.
type Outcome struct {
	Case   Case
	Got    *decimal.Decimal
	Match  bool
	Detail string
	Err    error
}

// Summary aggregates a replay run.
type Summary struct {
	Total      int64
	Matched    int64
	Mismatched int64
	Errors     int64
	Duration   time.Duration
}

func main() {
	csvPath := flag.String("csv", "", "Path to the replay CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Redress base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	workers := flag.Int("workers", 4, "Number of concurrent requests")
	verbose := flag.Bool("verbose", false, "Print every case")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv cases.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Redress not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	cases, err := ReadCases(f)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d cases from %s\n\n", len(cases), *csvPath)

	r := &Replayer{Client: client, BaseURL: *baseURL, TenantID: *tenantID, Workers: *workers}
	summary, outcomes, err := r.Run(context.Background(), cases)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	for _, o := range outcomes {
		if *verbose || !o.Match {
			fmt.Println(describe(o))
		}
	}

	fmt.Println()
	fmt.Printf("Total:      %d\n", summary.Total)
	fmt.Printf("Matched:    %d\n", summary.Matched)
	fmt.Printf("Mismatched: %d\n", summary.Mismatched)
	fmt.Printf("Errors:     %d\n", summary.Errors)
	fmt.Printf("Duration:   %s\n", summary.Duration.Round(time.Millisecond))

	if summary.Mismatched > 0 || summary.Errors > 0 {
		os.Exit(2)
	}
}

// ReadCases parses a replay CSV. The header row names the columns.
func ReadCases(r io.Reader) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var cases []Case
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c := Case{Line: line, Fields: make(map[string]string, len(header))}
		for i, col := range header {
			value := strings.TrimSpace(record[i])
			switch col {
			case ColumnCase:
				c.Name = value
			case ColumnExpected:
				if value == "" || strings.EqualFold(value, domain.None) {
					continue
				}
				d, err := decimal.NewFromString(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: expected_amount %q: %w", line, value, err)
				}
				c.Expected = &d
			default:
				if value != "" {
					c.Fields[col] = value
				}
			}
		}
		cases = append(cases, c)
	}

	return cases, nil
}

// Replayer posts cases to a Redress server.
type Replayer struct {
	Client   *http.Client
	BaseURL  string
	TenantID string
	Workers  int
}

// Run replays every case, at most Workers at a time. Outcomes keep the
// order of cases.
func (r *Replayer) Run(ctx context.Context, cases []Case) (Summary, []Outcome, error) {
	start := time.Now()
	outcomes := make([]Outcome, len(cases))

	var summary Summary
	var matched, mismatched, failed atomic.Int64

	limit := r.Workers
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, c := range cases {
		g.Go(func() error {
			o := r.replay(gctx, c)
			switch {
			case o.Err != nil:
				failed.Add(1)
			case o.Match:
				matched.Add(1)
			default:
				mismatched.Add(1)
			}
			outcomes[i] = o
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return summary, nil, err
	}

	summary.Total = int64(len(cases))
	summary.Matched = matched.Load()
	summary.Mismatched = mismatched.Load()
	summary.Errors = failed.Load()
	summary.Duration = time.Since(start)
	return summary, outcomes, nil
}

func (r *Replayer) replay(ctx context.Context, c Case) Outcome {
	o := Outcome{Case: c}

	body, err := json.Marshal(domain.CalculationRequest{
		Strategy: domain.StrategyScenario,
		Fields:   c.Fields,
	})
	if err != nil {
		o.Err = err
		return o
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.BaseURL, "/")+"/compensation/calculate", bytes.NewReader(body))
	if err != nil {
		o.Err = err
		return o
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", r.TenantID)

	resp, err := r.Client.Do(req)
	if err != nil {
		o.Err = err
		return o
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		o.Err = fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		return o
	}

	var result domain.CalculationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		o.Err = fmt.Errorf("failed to decode response: %w", err)
		return o
	}

	if result.Eligible {
		o.Got = result.Amount
	}
	o.Detail = result.ExplanationText()
	o.Match = sameAmount(c.Expected, o.Got)
	return o
}

func sameAmount(want, got *decimal.Decimal) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	return want.Equal(*got)
}

func describe(o Outcome) string {
	label := o.Case.Name
	if label == "" {
		label = fmt.Sprintf("line %d", o.Case.Line)
	}

	switch {
	case o.Err != nil:
		return fmt.Sprintf("ERROR    %s: %v", label, o.Err)
	case o.Match:
		return fmt.Sprintf("OK       %s: %s", label, show(o.Got))
	default:
		return fmt.Sprintf("MISMATCH %s: want %s, got %s (%s)", label, show(o.Case.Expected), show(o.Got), o.Detail)
	}
}

func show(d *decimal.Decimal) string {
	if d == nil {
		return domain.None
	}
	return d.StringFixed(2)
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
