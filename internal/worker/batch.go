package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Processor runs the pipeline for a single item
type Processor interface {
	Process(ctx context.Context, itemID string) error
}

// ProcessJob runs one item through a Processor
type ProcessJob struct {
	ItemID    string
	Processor Processor
}

// Execute executes the process job
func (j *ProcessJob) Execute(ctx context.Context) Result {
	return &ProcessResult{
		ItemID: j.ItemID,
		Error:  j.Processor.Process(ctx, j.ItemID),
	}
}

// ProcessResult is the outcome of a process job
type ProcessResult struct {
	ItemID string
	Error  error
}

// GetError returns the error from the process result
func (r *ProcessResult) GetError() error {
	return r.Error
}

// BatchProcessor processes many items concurrently
type BatchProcessor struct {
	processor   Processor
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(processor Processor, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		processor:   processor,
		concurrency: concurrency,
	}
}

// ProcessItems processes item ids concurrently
func (b *BatchProcessor) ProcessItems(ctx context.Context, ids []string) []*ProcessResult {
	if len(ids) == 0 {
		return []*ProcessResult{}
	}

	jobs := make([]Job, len(ids))
	for i, id := range ids {
		jobs[i] = &ProcessJob{ItemID: id, Processor: b.processor}
	}

	results := RunAll(ctx, b.concurrency, jobs)

	out := make([]*ProcessResult, len(results))
	for i, result := range results {
		out[i] = result.(*ProcessResult)
	}
	return out
}

// ReadLines reads non-empty, non-comment lines from a file, dropping exact duplicates
func ReadLines(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return lines, nil
}
