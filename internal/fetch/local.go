package fetch

import (
	"context"
	_ "embed"
	"os"
)

//go:embed sample.json
var samplePayload []byte

// FileFetcher reads the payload from a local file on every call.
type FileFetcher struct {
	path string
}

func NewFile(path string) *FileFetcher { return &FileFetcher{path: path} }

func (f *FileFetcher) Source() string { return "file:" + f.path }

// Fetch never falls back to the sample: an unreadable file is an error.
func (f *FileFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: f.Source(), Err: err}
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, &FetchError{Source: f.Source(), Attempts: 1, Err: err}
	}
	return b, nil
}

// SampleFetcher serves the built-in sample payload.
type SampleFetcher struct{}

func NewSample() SampleFetcher { return SampleFetcher{} }

func (SampleFetcher) Source() string { return "embedded_sample" }

func (SampleFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Source: "embedded_sample", Err: err}
	}
	return append([]byte(nil), samplePayload...), nil
}
