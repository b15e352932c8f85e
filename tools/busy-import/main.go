// Command busy-import loads students and busy intervals from a CSV file into a
// running availability-service through its HTTP API.
//
// Each record is either "name" (register the student) or
// "name,day,start,end" (record a busy interval). A leading header row is
// skipped.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/freeslots/libs/config"
)

type row struct {
	line  int
	name  string
	day   string
	start string
	end   string
}

func (r row) busy() bool { return r.day != "" }

func main() {
	var (
		baseURL = flag.String("base-url", config.String("BASE_URL", "http://localhost:8080"), "availability-service base url")
		file    = flag.String("file", config.String("IMPORT_FILE", "-"), "CSV file to import, - for stdin")
		timeout = flag.Duration("timeout", 10*time.Second, "per request timeout")
		dryRun  = flag.Bool("dry-run", false, "parse and print rows without sending them")
		retries = flag.Int("retries", 5, "retries per row when the service answers 429")
	)
	flag.Parse()

	in := io.Reader(os.Stdin)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fatal(err.Error())
		}
		defer f.Close()
		in = f
	}

	rows, err := parseRows(in)
	if err != nil {
		fatal(err.Error())
	}
	if *dryRun {
		for _, r := range rows {
			fmt.Printf("line=%d name=%q day=%q start=%q end=%q\n", r.line, r.name, r.day, r.start, r.end)
		}
		return
	}

	imp := &importer{
		baseURL: strings.TrimRight(*baseURL, "/"),
		client:  &http.Client{Timeout: *timeout},
		out:     os.Stderr,
		retries: *retries,
		sleep:   sleepCtx,
	}
	sent, failed := imp.run(context.Background(), rows)
	fmt.Printf("imported=%d failed=%d\n", sent, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func parseRows(in io.Reader) ([]row, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var rows []row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(rows) == 0 && isHeader(rec) {
			continue
		}
		switch len(rec) {
		case 1:
			rows = append(rows, row{line: line, name: rec[0]})
		case 4:
			rows = append(rows, row{line: line, name: rec[0], day: rec[1], start: rec[2], end: rec[3]})
		default:
			return nil, fmt.Errorf("line %d: want 1 or 4 fields, got %d", line, len(rec))
		}
	}
	return rows, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "name")
}

type importer struct {
	baseURL string
	client  *http.Client
	out     io.Writer
	// retries bounds how often one row is resent after a 429.
	retries int
	sleep   func(ctx context.Context, d time.Duration) error
}

// maxRetryWait caps a Retry-After from the service.
const maxRetryWait = time.Minute

// run sends every row in order and keeps going past failures.
func (imp *importer) run(ctx context.Context, rows []row) (sent, failed int) {
	for _, r := range rows {
		var err error
		if r.busy() {
			err = imp.post(ctx, "/busy", map[string]string{"name": r.name, "day": r.day, "start": r.start, "end": r.end})
		} else {
			err = imp.post(ctx, "/students", map[string]string{"name": r.name})
		}
		if err != nil {
			fmt.Fprintf(imp.out, "line %d: %v\n", r.line, err)
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

// post sends body, waiting out rate limiting as the service asks.
func (imp *importer) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		wait, err := imp.send(ctx, path, payload)
		if err == nil || wait == 0 || attempt >= imp.retries {
			return err
		}
		if err := imp.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// send makes one request. A non-zero wait means the service answered 429.
func (imp *importer) send(ctx context.Context, path string, payload []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, imp.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := imp.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return 0, nil
	}

	var wait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		wait = retryAfter(resp.Header.Get("Retry-After"))
	}

	var apiErr struct {
		Detail string `json:"detail"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return wait, fmt.Errorf("status=%d: %s", resp.StatusCode, apiErr.Detail)
}

// retryAfter reads a Retry-After in seconds, defaulting to one second.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 1 {
		return time.Second
	}
	return min(time.Duration(secs)*time.Second, maxRetryWait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
