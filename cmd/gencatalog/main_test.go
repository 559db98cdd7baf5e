package main

import (
	"math/rand"
	"testing"

	"spos/internal/catalog"
	"spos/internal/config"
)

func TestGenerate_BuildsValidCatalog(t *testing.T) {
	d := generate(40, rand.New(rand.NewSource(7)))
	if len(d.Products) != 45 {
		t.Fatalf("want 45 products, got %d", len(d.Products))
	}
	idx, err := catalog.Build(d.Products, d.Categories, d.Partners)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p, ok := idx.ProductByID(45); !ok || p.InternalCode != "GEN-0045" {
		t.Fatalf("generated product missing: %+v ok=%v", p, ok)
	}
	if got := len(idx.Search("gen-")); got != catalog.MaxSearchResults {
		t.Fatalf("search by internal code returned %d", got)
	}
}

func TestPublisher_RejectsUnknownSink(t *testing.T) {
	if _, err := publisher(config.Config{CatalogDir: t.TempDir()}, "s3"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := publisher(config.Config{CatalogDir: t.TempDir()}, "file"); err != nil {
		t.Fatalf("file sink: %v", err)
	}
}
