package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-importer/internal/client"
	"github.com/zombor/invoice-importer/internal/extraction"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// maxListed is how many records are printed
const maxListed = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run uploads one PDF and prints what the server extracted. It returns the
// process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := ff.NewFlagSet("pdf-extract")
	var (
		filePath    = fs.StringLong("file", "", "Path of the PDF to extract")
		endpoint    = fs.StringLong("url", "http://localhost:8080/api/pdf-extract", "Extraction endpoint")
		owner       = fs.StringLong("user", "", "Owner id of the submitted job")
		parserName  = fs.StringLong("parser", "", "Line item parser (server default when empty)")
		sync        = fs.BoolLong("sync", "Extract inline instead of submitting a job")
		interval    = fs.DurationLong("interval", client.DefaultPollInterval, "Job status poll interval")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("PDF_EXTRACT"),
	); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	if *filePath == "" {
		fmt.Fprintln(stderr, "Usage: pdf-extract --file /path/to/file.pdf [--url http://localhost:8080/api/pdf-extract]")
		return 1
	}

	data, err := os.ReadFile(*filePath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "File not found: %s\n", *filePath)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read file: %v\n", err)
		return 1
	}

	// The server is the authority on whether the PDF is readable; a local
	// check only warns.
	if pages, err := api.PageCountFile(*filePath); err != nil {
		slog.Warn("PDF did not validate locally", "file", *filePath, "error", err)
	} else {
		slog.Debug("PDF validated locally", "file", *filePath, "pages", pages)
	}

	fmt.Fprintln(stdout, "CLI: Posting PDF for extraction...")
	fmt.Fprintln(stdout, "Target URL:", *endpoint)
	fmt.Fprintln(stdout, "PDF Path:", *filePath)

	c := client.New(*endpoint, client.WithBasicAuth(*authUser, *authPass))
	resp, err := c.Submit(ctx, filepath.Base(*filePath), data, client.SubmitOptions{
		OwnerID: *owner,
		Parser:  *parserName,
		Async:   !*sync,
	})
	if resp != nil {
		fmt.Fprintln(stdout, "Response status:", resp.StatusCode)
	}
	if errors.Is(err, client.ErrUnparseableResponse) {
		fmt.Fprintln(stderr, "Failed to parse response JSON.")
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "CLI error: %v\n", err)
		return 1
	}
	if !resp.Success {
		fmt.Fprintf(stderr, "Extraction rejected: %s\n", strings.TrimSpace(resp.Error+" "+resp.Details))
		return 1
	}

	products := resp.Products
	if !*sync {
		fmt.Fprintln(stdout, "Job queued:", resp.JobID)
		poller := client.NewPoller(c, printer{out: stdout}, *interval)
		job, err := poller.Watch(ctx, resp.JobID)
		if err != nil {
			fmt.Fprintf(stderr, "CLI error: %v\n", err)
			return 1
		}
		if job.Status == client.StatusFailed {
			return 1
		}
		if job.Result != nil {
			products = job.Result.Products
		}
	}

	printProducts(stdout, products)
	return 0
}

// printer writes poller outcomes to the terminal
type printer struct {
	out io.Writer
}

func (p printer) Completed(job *client.JobStatus) {
	fmt.Fprintf(p.out, "Job %s completed: %s (%s)\n", job.ID, job.FileName, job.UpdatedAt.Format(time.RFC3339))
}

func (p printer) Failed(jobID, message string) {
	fmt.Fprintf(p.out, "Job %s failed: %s\n", jobID, message)
}

func printProducts(w io.Writer, products []extraction.Record) {
	fmt.Fprintln(w, "Products parsed:", len(products))
	for i, p := range products {
		if i == maxListed {
			break
		}
		fmt.Fprintf(w, "%d. %s | qty=%d | TTC=%s | HT=%s | ref=%s\n",
			i+1, p.Name, p.Quantity, price(p.PriceTTC), price(p.PriceHT), orNA(p.Reference))
	}
}

func price(v float64) string {
	if v == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
