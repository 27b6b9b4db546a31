package ingest

import (
	"bytes"
	"fmt"
	"testing"

	repomock "github.com/nimeninja/ingestd/internal/repository/mock"
	storagemock "github.com/nimeninja/ingestd/internal/storage/mock"
)

func benchmarkUpload(b *testing.B, name string, data []byte, chunks int) {
	backend := storagemock.NewBackend()
	files := repomock.NewFileRepository()
	e, _ := newTestEngine(b, backend, files, func(o *Options) {
		o.QueueDepth = 16
		o.SinkBufferSize = 64 * 1024
	})
	parts := splitChunks(data, chunks)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		rec := newRecorder()
		sendAll(b, e, rec, fmt.Sprintf("bench-%d", i), "bench", name, parts)
		rec.waitDone(b)
	}
}

// BenchmarkUploadSmallImage uploads a tiny PNG in 3 chunks
func BenchmarkUploadSmallImage(b *testing.B) {
	benchmarkUpload(b, "small.png", pngBytes(b), 3)
}

// BenchmarkUploadLargeSubtitle uploads a ~1MB subtitle file in 64 chunks
func BenchmarkUploadLargeSubtitle(b *testing.B) {
	cue := []byte("1\n00:00:01,000 --> 00:00:02,500\nHello there\n\n")
	data := bytes.Repeat(cue, (1<<20)/len(cue))
	benchmarkUpload(b, "large.srt", data, 64)
}

// BenchmarkSplitChunks measures chunk slicing without the engine
func BenchmarkSplitChunks(b *testing.B) {
	data := bytes.Repeat([]byte("B"), 1<<20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if parts := splitChunks(data, 64); len(parts) != 64 {
			b.Fatalf("got %d parts", len(parts))
		}
	}
}
