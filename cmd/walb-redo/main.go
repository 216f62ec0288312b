// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command walb-redo replays a serialized WalB log stream against a data
// device, bringing it up to date with every write the stream records.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/walb/device"
	"github.com/grailbio/walb/log"
	"github.com/grailbio/walb/must"
	"github.com/grailbio/walb/redo"
	"github.com/pkg/errors"
)

func main() {
	logPath := flag.String("log", "", "path to read the log stream from (default: stdin)")
	maxInFlight := flag.Int("max-in-flight-bytes", 64<<20, "bound on in-flight payload bytes applied concurrently")
	concurrency := flag.Int("concurrency", 8, "number of concurrent write workers")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <data-device-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	devicePath := flag.Arg(0)

	var src io.Reader = os.Stdin
	if *logPath != "" {
		f, err := os.Open(*logPath)
		if err != nil {
			log.Fatal(errors.Wrap(err, "walb-redo: opening log stream"))
		}
		defer f.Close()
		src = f
	}

	ctx := context.Background()
	dataDev, err := device.Open(ctx, devicePath)
	if err != nil {
		log.Fatal(errors.Wrap(err, "walb-redo: opening data device"))
	}
	defer dataDev.Close()

	engine := redo.New(dataDev, *maxInFlight, *concurrency)
	lastLSN, err := engine.Run(ctx, src)
	if err != nil {
		log.Fatal(errors.Wrap(err, "walb-redo: replay failed"))
	}

	must.Nil(dataDev.Flush(), "walb-redo: final flush")
	log.Info.Printf("walb-redo: replay complete, last applied LSN=%d", lastLSN)
}
