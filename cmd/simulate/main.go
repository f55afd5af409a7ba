package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/doctalk-booking/internal/api"
	"github.com/hackgods/doctalk-booking/internal/booking"
)

// SimConfig drives Callers concurrent sessions that all book Doctor at the
// same Date and Time, then confirm at once.
type SimConfig struct {
	APIBaseURL string
	Callers    int
	Rounds     int
	Doctor     string
	Date       string
	Time       string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

type Simulator struct {
	config       SimConfig
	client       *http.Client
	faker        *gofakeit.Faker
	fakerMu      sync.Mutex
	bookTurns    OperationMetrics
	confirmTurns OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: callers=%d rounds=%d doctor=%q date=%q time=%q",
		cfg.Callers, cfg.Rounds, cfg.Doctor, cfg.Date, cfg.Time)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 20 * time.Second},
		faker:  gofakeit.New(uint64(time.Now().UnixNano())),
	}

	for round := 1; round <= cfg.Rounds; round++ {
		created := sim.Run(round)
		log.Printf("round %d: %d of %d callers got the slot", round, created, cfg.Callers)
	}

	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Callers:    getInt("SIM_CALLERS", 20),
		Rounds:     getInt("SIM_ROUNDS", 1),
		Doctor:     getEnv("SIM_DOCTOR", "Dr. Smith"),
		Date:       getEnv("SIM_DATE", "tomorrow"),
		Time:       getEnv("SIM_TIME", "10:00"),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Callers <= 0 {
		return fmt.Errorf("SIM_CALLERS must be > 0")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	return nil
}

// Run books every caller into the confirming phase, then releases all
// confirms together. It returns how many appointments were created.
func (s *Simulator) Run(round int) int64 {
	ctx := context.Background()
	sessions := make([]string, s.config.Callers)

	var wg sync.WaitGroup
	for i := range sessions {
		sessions[i] = fmt.Sprintf("sim-%d-%s", round, uuid.NewString()[:8])
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.doBooking(ctx, id)
		}(sessions[i])
	}
	wg.Wait()

	var created int64
	start := make(chan struct{})
	for _, id := range sessions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			if s.doConfirm(ctx, id) {
				atomic.AddInt64(&created, 1)
			}
		}(id)
	}
	close(start)
	wg.Wait()
	return created
}

func (s *Simulator) doBooking(ctx context.Context, sessionID string) {
	s.fakerMu.Lock()
	name := s.faker.FirstName() + " " + s.faker.LastName()
	s.fakerMu.Unlock()

	req := api.TurnRequest{
		Transcript: fmt.Sprintf("I'd like to see %s %s at %s", s.config.Doctor, s.config.Date, s.config.Time),
		Intent:     booking.IntentBook,
		Entities: map[string]*string{
			"patient_name": &name,
			"doctor":       &s.config.Doctor,
			"date":         &s.config.Date,
			"time":         &s.config.Time,
		},
	}

	start := time.Now()
	res, err := s.turn(ctx, sessionID, req)
	success := err == nil && res.Action == booking.ActionConfirmationRequired
	s.bookTurns.Record(time.Since(start), success, false)
	if err != nil {
		log.Printf("book %s: %v", sessionID, err)
	}
}

func (s *Simulator) doConfirm(ctx context.Context, sessionID string) bool {
	start := time.Now()
	res, err := s.turn(ctx, sessionID, api.TurnRequest{Transcript: "yes", Intent: booking.IntentConfirm})
	latency := time.Since(start)

	success := err == nil && res.Action == booking.ActionAppointmentCreated
	conflict := err == nil && res.Action == booking.ActionSlotUnavailable
	s.confirmTurns.Record(latency, success, conflict)
	if err != nil {
		log.Printf("confirm %s: %v", sessionID, err)
	}
	return success
}

func (s *Simulator) turn(ctx context.Context, sessionID string, body api.TurnRequest) (booking.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return booking.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/sessions/%s/turns", s.config.APIBaseURL, sessionID), bytes.NewReader(payload))
	if err != nil {
		return booking.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return booking.Result{}, err
	}
	defer resp.Body.Close()

	var res booking.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return booking.Result{}, fmt.Errorf("decode status %d: %w", resp.StatusCode, err)
	}
	return res, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Callers per round: %d\n", s.config.Callers)
	fmt.Printf("Rounds: %d\n", s.config.Rounds)
	fmt.Println()

	printOperationReport("Booking turn", &s.bookTurns)
	printOperationReport("Confirm turn", &s.confirmTurns)

	if success := atomic.LoadInt64(&s.confirmTurns.Success); success > int64(s.config.Rounds) {
		fmt.Printf("WARNING: %d appointments created for %d contested slots\n", success, s.config.Rounds)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Slot unavailable: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}
