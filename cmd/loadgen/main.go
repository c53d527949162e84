// Load generator for exercising a running Kestrel instance with
// synthetic remittance traffic.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -subjects 50
//
// This tool:
//  1. Registers synthetic subjects, a fraction of them sharing identity
//     attributes to trip duplicate-identity detection
//  2. Sends transfers, mixing normal traffic with velocity bursts and
//     sub-threshold structuring patterns
//  3. Polls the alerts endpoint and reports what the detectors caught
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

type subjectRequest struct {
	DocumentNumber   string `json:"documentNumber"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Nationality      string `json:"nationality"`
	ResidenceCountry string `json:"residenceCountry"`
}

type subjectResponse struct {
	ID string `json:"id"`
}

type transactionRequest struct {
	SubjectID        string  `json:"subjectId"`
	RecipientCountry string  `json:"recipientCountry"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
}

type alertListResponse struct {
	Total  int `json:"total"`
	Alerts []struct {
		Type     string `json:"type"`
		Severity string `json:"severity"`
	} `json:"alerts"`
}

type metrics struct {
	SubjectsCreated int64
	TxSent          int64
	TxErrors        int64
	LatencyMs       int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	numSubjects := flag.Int("subjects", 50, "Number of subjects to register")
	duplicateRate := flag.Float64("dup-rate", 0.1, "Fraction of subjects sharing a document number")
	txPerSubject := flag.Int("tx", 5, "Normal transfers per subject")
	burstSubjects := flag.Int("bursts", 5, "Subjects that get a velocity burst")
	structurers := flag.Int("structurers", 3, "Subjects that get a structuring pattern")
	workers := flag.Int("workers", 10, "Concurrent workers")
	settle := flag.Duration("settle", 3*time.Second, "Wait before reading alerts")
	flag.Parse()

	fmt.Printf("Kestrel load generator\n")
	fmt.Printf("  URL:         %s\n", *baseURL)
	fmt.Printf("  Subjects:    %d (%.0f%% duplicates)\n", *numSubjects, *duplicateRate*100)
	fmt.Printf("  Transfers:   %d normal per subject, %d burst subjects, %d structurers\n",
		*txPerSubject, *burstSubjects, *structurers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	client := &http.Client{Timeout: 10 * time.Second}
	m := &metrics{}
	start := time.Now()

	// Phase 1: register subjects. Shared documents exercise the
	// duplicate-identity detector.
	subjects := createSubjects(client, *baseURL, *numSubjects, *duplicateRate, m)
	fmt.Printf("✓ Registered %d subjects\n", len(subjects))
	if len(subjects) == 0 {
		fmt.Println("ERROR: no subjects registered, aborting")
		os.Exit(1)
	}

	// Phase 2: send traffic through a worker pool.
	work := make(chan transactionRequest, 100)
	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tx := range work {
				sendTransaction(client, *baseURL, tx, m)
			}
		}()
	}

	countries := []string{"US", "MX", "PH", "IN", "NG", "GT"}
	for i, id := range subjects {
		for j := 0; j < *txPerSubject; j++ {
			work <- transactionRequest{
				SubjectID:        id,
				RecipientCountry: countries[rand.Intn(len(countries))],
				Amount:           50 + rand.Float64()*400,
				Currency:         "USD",
			}
		}
		// Velocity burst: enough small transfers to exceed the count
		// threshold inside one window.
		if i < *burstSubjects {
			for j := 0; j < 6; j++ {
				work <- transactionRequest{
					SubjectID:        id,
					RecipientCountry: "MX",
					Amount:           100,
					Currency:         "USD",
				}
			}
		}
		// Structuring pattern: repeated transfers just under the
		// reporting ceiling.
		if i >= len(subjects)-*structurers {
			for j := 0; j < 3; j++ {
				work <- transactionRequest{
					SubjectID:        id,
					RecipientCountry: "PH",
					Amount:           4600 + rand.Float64()*350,
					Currency:         "USD",
				}
			}
		}
	}
	close(work)
	wg.Wait()

	duration := time.Since(start)
	fmt.Printf("✓ Sent %d transfers (%d errors) in %v\n",
		atomic.LoadInt64(&m.TxSent), atomic.LoadInt64(&m.TxErrors), duration.Round(time.Millisecond))

	// Phase 3: give the async detectors time to drain, then report.
	fmt.Printf("\nWaiting %v for detectors to settle...\n", *settle)
	time.Sleep(*settle)
	printAlertSummary(client, *baseURL, m, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func createSubjects(client *http.Client, baseURL string, n int, dupRate float64, m *metrics) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		req := subjectRequest{
			DocumentNumber:   fmt.Sprintf("DOC-%06d", i),
			Email:            fmt.Sprintf("subject%d@example.com", i),
			Phone:            fmt.Sprintf("+1555%07d", i),
			Nationality:      "US",
			ResidenceCountry: "US",
		}
		// Reuse an earlier subject's document, with a different residence
		// country to also trip the country-mismatch weight.
		if i > 0 && rand.Float64() < dupRate {
			req.DocumentNumber = fmt.Sprintf("DOC-%06d", rand.Intn(i))
			req.ResidenceCountry = "MX"
		}

		body, _ := json.Marshal(req)
		resp, err := client.Post(baseURL+"/subjects", "application/json", bytes.NewReader(body))
		if err != nil {
			continue
		}
		var created subjectResponse
		if resp.StatusCode == http.StatusCreated {
			if json.NewDecoder(resp.Body).Decode(&created) == nil && created.ID != "" {
				ids = append(ids, created.ID)
				atomic.AddInt64(&m.SubjectsCreated, 1)
			}
		}
		resp.Body.Close()
	}
	return ids
}

func sendTransaction(client *http.Client, baseURL string, tx transactionRequest, m *metrics) {
	body, err := json.Marshal(tx)
	if err != nil {
		atomic.AddInt64(&m.TxErrors, 1)
		return
	}

	start := time.Now()
	resp, err := client.Post(baseURL+"/transactions", "application/json", bytes.NewReader(body))
	atomic.AddInt64(&m.LatencyMs, time.Since(start).Milliseconds())
	atomic.AddInt64(&m.TxSent, 1)

	if err != nil {
		atomic.AddInt64(&m.TxErrors, 1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		atomic.AddInt64(&m.TxErrors, 1)
	}
}

func printAlertSummary(client *http.Client, baseURL string, m *metrics, duration time.Duration) {
	resp, err := client.Get(baseURL + "/alerts?limit=500")
	if err != nil {
		fmt.Printf("ERROR: failed to list alerts: %v\n", err)
		return
	}
	defer resp.Body.Close()

	var list alertListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		fmt.Printf("ERROR: failed to decode alerts: %v\n", err)
		return
	}

	byType := map[string]int{}
	bySeverity := map[string]int{}
	for _, a := range list.Alerts {
		byType[a.Type]++
		bySeverity[a.Severity]++
	}

	fmt.Println("\nRESULTS")
	fmt.Printf("  Alerts raised:  %d\n", list.Total)
	for t, n := range byType {
		fmt.Printf("    %-20s %d\n", t, n)
	}
	fmt.Println("  By severity:")
	for s, n := range bySeverity {
		fmt.Printf("    %-20s %d\n", s, n)
	}

	sent := atomic.LoadInt64(&m.TxSent)
	if sent > 0 {
		fmt.Printf("\nPERFORMANCE\n")
		fmt.Printf("  Avg create latency: %.2f ms\n", float64(atomic.LoadInt64(&m.LatencyMs))/float64(sent))
		fmt.Printf("  Throughput:         %.2f tx/sec\n", float64(sent)/duration.Seconds())
	}
	fmt.Println()
}
