// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.
package main

/*
bf-query is a thin demonstration CLI for the query engine: it builds a
one-shard, one-slice in-memory index from a plain-text corpus (one document
per line, whitespace-separated terms) and runs a single query against it,
printing the matched document numbers and the query's instrumentation
record.
*/

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bitfunnel/diag"
	"github.com/grailbio/bitfunnel/matchtree"
	"github.com/grailbio/bitfunnel/query"
	"github.com/grailbio/bitfunnel/results"
	"github.com/grailbio/bitfunnel/rewrite"
	"github.com/grailbio/bitfunnel/rowid"
	"github.com/grailbio/bitfunnel/shard"
	"github.com/pkg/errors"
)

var (
	corpusPath   = flag.String("corpus", "", "Path to a corpus file: one document per line, whitespace-separated terms")
	queryText    = flag.String("query", "", "Query text (spec.md section 6 grammar)")
	diagKeywords = flag.String("diag", "", "Comma-separated diagnostic keyword prefixes to enable")
	recordLines  = flag.Bool("cache-lines", false, "Enable the interpreter's cache-line recorder")
)

func bfQueryUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -corpus <path> -query <query text>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bfQueryUsage
	shutdown := grail.Init()
	defer shutdown()

	if *corpusPath == "" || *queryText == "" {
		bfQueryUsage()
		os.Exit(2)
	}

	sh, tt, err := buildShardFromCorpus(*corpusPath)
	if err != nil {
		log.Panicf("bf-query: building shard from %s: %v", *corpusPath, err)
	}

	e := &query.Engine{
		Terms:            tt,
		Diag:             diag.NewStream(os.Stderr),
		RewriteConfig:    rewrite.DefaultConfig(),
		RecordCacheLines: *recordLines,
	}
	for _, kw := range strings.Split(*diagKeywords, ",") {
		if kw != "" {
			e.EnableDiagnostic(kw)
		}
	}

	mt := matchtree.NewArena()
	h, instr, err := e.Parse(mt, *queryText)
	if err != nil {
		log.Panicf("bf-query: parsing %q: %v", *queryText, err)
	}

	var epoch shard.Epoch
	out := results.NewBuffer(sh.SliceCapacity())
	if err := e.Run(mt, h, instr, []shard.Shard{sh}, &epoch, out); err != nil {
		log.Panicf("bf-query: running %q: %v", *queryText, err)
	}

	for _, entry := range out.Entries() {
		fmt.Printf("doc %d\n", entry.Index+1)
	}
	fmt.Fprintf(os.Stderr,
		"matched=%d rows=%d quadwords=%d cachelines=%d parse=%v plan=%v match=%v\n",
		instr.MatchCount, instr.RowCount, instr.QuadwordCount, instr.CacheLineCount,
		instr.ParseTime, instr.PlanTime, instr.MatchTime)
}

// buildShardFromCorpus reads one document per line from path, assigns each
// distinct whitespace-separated token its own rank-0 row, and returns a
// single-slice MemShard (document index i holds line i+1's terms) plus the
// MemTermTable backing it.
func buildShardFromCorpus(path string) (*shard.MemShard, *shard.MemTermTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening corpus file")
	}
	defer f.Close()

	var docs [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		docs = append(docs, strings.Fields(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "reading corpus file")
	}
	if len(docs) == 0 {
		return nil, nil, errors.Errorf("corpus file %s contains no documents", path)
	}

	capacity := 1
	for capacity < len(docs) {
		capacity <<= 1
	}
	if capacity == 0 {
		capacity = 1
	}

	tt := shard.NewMemTermTable(0, 1<<20)
	sh := shard.NewMemShard(0, capacity)

	rows := map[string]rowid.RowId{}
	var nextIndex uint64
	rowFor := func(text string) rowid.RowId {
		if r, ok := rows[text]; ok {
			return r
		}
		r := rowid.NewRowId(0, 0, nextIndex)
		nextIndex++
		rows[text] = r
		tt.Define(rowid.Term{Text: text, Stream: query.DefaultStream, GramSize: 1}, []rowid.RowId{r})
		sh.DefineRow(r)
		return r
	}

	docIDs := make([]uint64, len(docs))
	for i := range docs {
		docIDs[i] = uint64(i + 1)
	}
	sh.AddSlice(docIDs)

	for i, terms := range docs {
		for _, term := range terms {
			sh.SetBit(rowFor(term), i)
		}
	}
	return sh, tt, nil
}
