package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spos/internal/catalog"
	"spos/internal/catalogfeed"
	"spos/internal/config"
	"spos/internal/seed"
)

func main() {
	cfg := config.Load()
	var (
		extra      int
		snapshotID string
		sink       string
		randSeed   int64
	)
	flag.StringVar(&cfg.CatalogDir, "dir", cfg.CatalogDir, "catalog snapshot directory")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", cfg.KafkaBootstrap, "kafka bootstrap servers")
	flag.StringVar(&cfg.CatalogTopic, "topic-catalog", cfg.CatalogTopic, "kafka topic for the manifest (compacted)")
	flag.IntVar(&extra, "extra", 0, "number of generated products added to the seed catalog")
	flag.StringVar(&snapshotID, "id", "", "snapshot id (default: UTC timestamp)")
	flag.StringVar(&sink, "manifest-sink", "file", "manifest sink: file|kafka|both")
	flag.Int64Var(&randSeed, "seed", time.Now().UnixNano(), "random seed for generated products")
	flag.Parse()

	if snapshotID == "" {
		snapshotID = "cat-" + time.Now().UTC().Format("20060102T150405Z")
	}
	d := generate(extra, rand.New(rand.NewSource(randSeed)))
	if _, err := catalog.Build(d.Products, d.Categories, d.Partners); err != nil {
		log.Fatalf("generated catalog is invalid: %v", err)
	}

	pub, err := publisher(cfg, sink)
	if err != nil {
		log.Fatalf("%v", err)
	}
	snaps := catalogfeed.NewFilesystemSnapshotter(cfg.CatalogDir)
	if err := catalogfeed.Publish(snaps, pub, snapshotID, d); err != nil {
		log.Fatalf("publish catalog: %v", err)
	}
	log.Printf("published catalog snapshot %s with %d products to %s", snapshotID, len(d.Products), cfg.CatalogDir)
}

func publisher(cfg config.Config, sink string) (catalogfeed.Publisher, error) {
	fs := catalogfeed.NewFilesystemManifest(cfg.CatalogDir)
	switch sink {
	case "file":
		return fs, nil
	case "kafka":
		return catalogfeed.NewKafkaManifest(cfg.Brokers(), cfg.CatalogTopic, catalogfeed.DefaultManifestKey), nil
	case "both":
		return catalogfeed.NewMultiPublisher(fs, catalogfeed.NewKafkaManifest(cfg.Brokers(), cfg.CatalogTopic, catalogfeed.DefaultManifestKey)), nil
	default:
		return nil, fmt.Errorf("manifest sink %q: want file|kafka|both", sink)
	}
}

var (
	adjectives = []string{"Iced", "Hot", "Large", "Mini", "Vanilla", "Matcha", "Almond", "Double"}
	nouns      = []string{"Mocha", "Muffin", "Cookie", "Chai", "Scone", "Brownie", "Smoothie", "Donut"}
)

// generate extends the seed catalog with n random products spread over the
// seed leaf categories.
func generate(n int, rng *rand.Rand) catalogfeed.Data {
	d := seed.Catalog()
	leaves := []catalog.Category{d.Categories[2], d.Categories[3], d.Categories[4]}
	nextID := int64(len(d.Products)) + 1
	for i := 0; i < n; i++ {
		c := leaves[rng.Intn(len(leaves))]
		name := adjectives[rng.Intn(len(adjectives))] + " " + nouns[rng.Intn(len(nouns))]
		cents := int64(100 + rng.Intn(900))
		d.Products = append(d.Products, catalog.Product{
			ID:           nextID,
			DisplayName:  name,
			ListPrice:    decimal.New(cents, -2),
			Cost:         decimal.New(cents*4/10, -2),
			CategoryID:   c.ID,
			CategoryName: c.Name,
			TaxRefs:      []int64{1},
			Barcode:      fmt.Sprintf("88599%08d", nextID),
			InternalCode: strings.ToUpper(fmt.Sprintf("GEN-%04d", nextID)),
			StockQty:     decimal.NewFromInt(int64(rng.Intn(200))),
		})
		nextID++
	}
	return d
}
