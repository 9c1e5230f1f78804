// Load generator for exercising a running Harrier instance with
// synthetic marketplace traffic.
//
// Usage:
//   go run cmd/harrier-loadgen/main.go -url http://localhost:8080 -count 1000
//
// This tool:
//   1. Generates synthetic actor activity (payments, messages, listings)
//   2. Mixes in bursts from a small pool of "hot" actors to trip velocity rules
//   3. Files occasional disputes across the priority bands
//   4. Reports throughput, latency, and how many cases were opened
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ActivityRequest mirrors the POST /activities payload.
type ActivityRequest struct {
	ActorID        string         `json:"actorId"`
	Action         string         `json:"action"`
	TargetID       string         `json:"targetId,omitempty"`
	CounterpartyID string         `json:"counterpartyId,omitempty"`
	Amount         int64          `json:"amount,omitempty"`
	Currency       string         `json:"currency,omitempty"`
	Description    string         `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DisputeRequest mirrors the POST /disputes payload.
type DisputeRequest struct {
	ActorID        string `json:"actorId"`
	CounterpartyID string `json:"counterpartyId"`
	Type           string `json:"type"`
	DisputedAmount int64  `json:"disputedAmount"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
}

// ActivityResponse captures the fields the loadgen cares about.
type ActivityResponse struct {
	ActivityID  string `json:"activityId"`
	CasesOpened []any  `json:"casesOpened"`
}

// Metrics tracks load run results.
type Metrics struct {
	Activities  int64
	Disputes    int64
	CasesOpened int64
	Errors      int64
	TotalMs     int64
}

var actions = []string{"payment", "message_sent", "listing_created", "login", "review_posted"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	count := flag.Int("count", 1000, "Number of activities to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	actors := flag.Int("actors", 200, "Size of the actor pool")
	hotActors := flag.Int("hot", 5, "Actors that burst to trip velocity rules")
	disputeRate := flag.Float64("disputes", 0.02, "Fraction of requests that file disputes")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        HARRIER LOADGEN - Synthetic Marketplace Traffic        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nHarrier URL:  %s\n", *baseURL)
	fmt.Printf("Activities:   %d\n", *count)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Actor pool:   %d (%d hot)\n", *actors, *hotActors)
	fmt.Printf("Dispute rate: %.2f\n", *disputeRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	rng := rand.New(rand.NewSource(*seed))
	jobs := make(chan int, *count)
	for i := 0; i < *count; i++ {
		jobs <- i
	}
	close(jobs)

	var metrics Metrics
	var mu sync.Mutex // guards rng
	client := &http.Client{Timeout: 10 * time.Second}

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				mu.Lock()
				dispute := rng.Float64() < *disputeRate
				actorID := pickActor(rng, *actors, *hotActors)
				counterparty := fmt.Sprintf("actor-%04d", rng.Intn(*actors))
				action := actions[rng.Intn(len(actions))]
				amount := int64(rng.Intn(200000))
				mu.Unlock()

				if dispute {
					sendDispute(client, *baseURL, &metrics, actorID, counterparty, amount)
				} else {
					sendActivity(client, *baseURL, &metrics, actorID, counterparty, action, amount)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	total := metrics.Activities + metrics.Disputes
	fmt.Println("\nResults:")
	fmt.Printf("  Activities:   %d\n", metrics.Activities)
	fmt.Printf("  Disputes:     %d\n", metrics.Disputes)
	fmt.Printf("  Cases opened: %d\n", metrics.CasesOpened)
	fmt.Printf("  Errors:       %d\n", metrics.Errors)
	fmt.Printf("  Elapsed:      %s\n", elapsed.Round(time.Millisecond))
	if total > 0 && elapsed > 0 {
		fmt.Printf("  Throughput:   %.1f req/s\n", float64(total)/elapsed.Seconds())
		fmt.Printf("  Avg latency:  %.1f ms\n", float64(metrics.TotalMs)/float64(total))
	}
}

// pickActor biases a share of traffic to the hot actors, whose burst
// rates should trip velocity and count based rules.
func pickActor(rng *rand.Rand, pool, hot int) string {
	if hot > 0 && rng.Float64() < 0.3 {
		return fmt.Sprintf("hot-actor-%02d", rng.Intn(hot))
	}
	return fmt.Sprintf("actor-%04d", rng.Intn(pool))
}

func sendActivity(client *http.Client, baseURL string, m *Metrics, actorID, counterparty, action string, amount int64) {
	req := ActivityRequest{
		ActorID:        actorID,
		Action:         action,
		CounterpartyID: counterparty,
		Currency:       "USD",
	}
	if action == "payment" {
		req.Amount = amount
	}
	if action == "message_sent" {
		req.Metadata = map[string]any{"channel": "order_chat"}
	}

	body, _ := json.Marshal(req)

	start := time.Now()
	resp, err := client.Post(baseURL+"/activities", "application/json", bytes.NewReader(body))
	atomic.AddInt64(&m.TotalMs, time.Since(start).Milliseconds())
	if err != nil {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		atomic.AddInt64(&m.Errors, 1)
		return
	}

	var ar ActivityResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err == nil {
		atomic.AddInt64(&m.CasesOpened, int64(len(ar.CasesOpened)))
	}
	atomic.AddInt64(&m.Activities, 1)
}

func sendDispute(client *http.Client, baseURL string, m *Metrics, actorID, counterparty string, amount int64) {
	req := DisputeRequest{
		ActorID:        actorID,
		CounterpartyID: counterparty,
		Type:           "payment",
		DisputedAmount: amount + 1, // keep it positive
		Currency:       "USD",
		Description:    "loadgen synthetic dispute",
	}

	body, _ := json.Marshal(req)

	start := time.Now()
	resp, err := client.Post(baseURL+"/disputes", "application/json", bytes.NewReader(body))
	atomic.AddInt64(&m.TotalMs, time.Since(start).Milliseconds())
	if err != nil {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		atomic.AddInt64(&m.Errors, 1)
		return
	}
	atomic.AddInt64(&m.Disputes, 1)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}
