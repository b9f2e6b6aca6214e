package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is one HTTP outcome, aggregated by printSummary.
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	token := flag.String("token", "", "ID token of the student account under test")
	pages := flag.Int("pages", 8, "pageCount per order")
	total := flag.Int("n", 50, "orders to submit")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "-token is required")
		os.Exit(2)
	}
	client := &http.Client{Timeout: 10 * time.Second}

	before, err := getCredits(client, *baseURL, *token)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read balance:", err)
		os.Exit(1)
	}
	fmt.Printf("start overdraft test: balance=%d orders=%d pages=%d concurrency=%d\n", before, *total, *pages, *concurrency)

	results := runOrders(client, *baseURL, *token, *pages, *total, *concurrency)
	printSummary("create-order", results)

	after, err := getCredits(client, *baseURL, *token)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read balance:", err)
		os.Exit(1)
	}
	accepted := 0
	for _, r := range results {
		if r.Err == nil && r.Status == http.StatusOK {
			accepted++
		}
	}
	expected := before - accepted*(*pages)
	fmt.Printf("final balance=%d expected=%d accepted=%d\n", after, expected, accepted)
	if after < 0 || after != expected {
		fmt.Println("FAIL: ledger is inconsistent")
		os.Exit(1)
	}
	fmt.Println("OK: balance never went negative")
}

func runOrders(client *http.Client, baseURL, token string, pages, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := map[string]any{
				"orderId":         uuid.NewString(),
				"assignmentTitle": fmt.Sprintf("load test %d", idx),
				"orderType":       "assignment",
				"pageCount":       pages,
			}
			results[idx] = post(client, baseURL+"/api/create-order", token, req)
		}(i)
	}

	wg.Wait()
	return results
}

func post(client *http.Client, url, token string, body any) Result {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(out)}
}

// printSummary prints the status code distribution.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 401, 404, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func getCredits(client *http.Client, baseURL, token string) (int, error) {
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	var out struct {
		CreditsRemaining int `json:"creditsRemaining"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.CreditsRemaining, nil
}
