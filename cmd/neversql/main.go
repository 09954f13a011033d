// Command neversql is a fixed-sequence driver exercising the library
// surface directly: open, add a collection, insert, retrieve, iterate.
// It is deliberately not a REPL or a statement dispatcher.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/nrupprecht/NeverSQL/internal/btree"
	"github.com/nrupprecht/NeverSQL/internal/datamgr"
	"github.com/nrupprecht/NeverSQL/internal/document"
	"github.com/nrupprecht/NeverSQL/internal/telemetry"
)

func main() {
	dir := "./neversql-demo"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	logger := logrus.New()
	sink := telemetry.NewLogrusSink(logger)

	mgr, err := datamgr.Open(dir, datamgr.Options{Sink: sink})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer mgr.Close()

	if _, err := mgr.AddCollection("elements", btree.KeyTypeUInt64); err != nil {
		log.Fatalf("add_collection: %v", err)
	}

	for i := uint64(0); i < 10; i++ {
		doc := (&document.Document{}).
			With("pk", document.NewUInt64(i)).
			With("data", document.NewString(fmt.Sprintf("Entry %d", i)))
		if _, err := mgr.AddValue("elements", i, doc); err != nil {
			log.Fatalf("add_value(%d): %v", i, err)
		}
	}

	doc, found, err := mgr.Retrieve("elements", uint64(5))
	if err != nil {
		log.Fatalf("retrieve: %v", err)
	}
	if !found {
		log.Fatal("retrieve: key 5 not found")
	}
	data, _ := doc.Get("data")
	fmt.Printf("retrieved pk=5: data=%q\n", data.Str)

	names, err := mgr.CollectionNames()
	if err != nil {
		log.Fatalf("collection_names: %v", err)
	}
	fmt.Printf("collections: %v\n", names)

	it, err := mgr.Iter("elements")
	if err != nil {
		log.Fatalf("iter: %v", err)
	}
	count := 0
	for it.Valid() {
		count++
		it.Next()
	}
	fmt.Printf("elements: %d entries\n", count)
}
