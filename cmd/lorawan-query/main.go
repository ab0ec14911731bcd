package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/client"
	"github.com/commandus/lorawan-storage-sub000/internal/config"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
)

func main() {
	var (
		q          query
		code       int
		accessCode string
		network    = flag.String("network", "udp", "udp, tcp or http")
		address    = flag.String("address", "127.0.0.1:4244", "service address, host:port or base URL for http")
		token      = flag.String("token", "", "bearer token for http")
		asJSON     = flag.Bool("json", false, "print responses as JSON")
		repeat     = flag.Int("repeat", 1, "send the request N times and print a latency summary")
		timeout    = flag.Duration("timeout", client.DefaultTimeout, "response timeout")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.StringVar(&q.service, "service", "identity", "identity or gateway")
	flag.StringVar(&q.tag, "tag", "c", "request tag, e.g. a i p r l c s e (identity) or a A p r L c f d (gateway)")
	flag.IntVar(&code, "code", 0, "account code")
	flag.StringVar(&accessCode, "access-code", "", "access code, hex")
	flag.StringVar(&q.addr, "addr", "", "device address, hex")
	flag.StringVar(&q.eui, "eui", "", "device EUI, hex")
	flag.StringVar(&q.identity, "identity", "", "identity JSON for assign")
	flag.StringVar(&q.gwID, "gwid", "", "gateway id, hex")
	flag.StringVar(&q.gwAddr, "gwaddr", "", "gateway address, ip:port")
	flag.UintVar(&q.offset, "offset", 0, "list offset")
	flag.UintVar(&q.size, "size", 10, "list size")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ac, err := config.ParseHexCode(accessCode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid access code")
	}
	q.code = int32(code)
	q.accessCode = uint64(ac)

	e, req, err := q.build()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid request")
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, *network, *address, e, *timeout)
	if err != nil {
		log.Fatal().Err(err).Str("address", *address).Msg("Connect failed")
	}
	defer c.Close()
	c.SetToken(*token)
	log.Debug().Int("reply_size", c.ReplySize(protocol.Marshal(req))).Msg("Sending request")

	if *repeat <= 1 {
		resp, err := c.Do(ctx, req)
		if err != nil {
			if errors.Is(err, client.ErrNoResponse) {
				log.Fatal().Msg("No response: the request was dropped or the service is down")
			}
			log.Fatal().Err(err).Msg("Request failed")
		}
		if err := printResponse(os.Stdout, e, resp, *asJSON); err != nil {
			log.Fatal().Err(err).Msg("Print failed")
		}
		return
	}

	stats := newLatency()
	for i := 0; i < *repeat; i++ {
		start := time.Now()
		_, err := c.Do(ctx, req)
		stats.record(time.Since(start), err)
		if err != nil {
			log.Debug().Err(err).Int("n", i).Msg("Request failed")
		}
	}
	stats.print(os.Stdout)
}

func printResponse(w io.Writer, e protocol.Entity, m protocol.Message, asJSON bool) error {
	if asJSON {
		out, err := protocol.JSON.EncodeResponse(e, m, 1<<20)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	}

	switch r := m.(type) {
	case *protocol.OperationResponse:
		if r.Response < 0 {
			fmt.Fprintf(w, "error %d: %s\n", r.Response, r.Status())
			return nil
		}
		fmt.Fprintf(w, "%d\n", r.Response)
	case *protocol.IdentityGetResponse:
		if r.Status != protocol.StatusOK {
			fmt.Fprintf(w, "error %d: %s\n", int32(r.Status), r.Status)
			return nil
		}
		fmt.Fprintln(w, r.Identity.String())
	case *protocol.GatewayGetResponse:
		if r.Status != protocol.StatusOK {
			fmt.Fprintf(w, "error %d: %s\n", int32(r.Status), r.Status)
			return nil
		}
		fmt.Fprintln(w, r.Identity.String())
	case *protocol.IdentityListResponse:
		if r.Response < 0 {
			fmt.Fprintf(w, "error %d: %s\n", r.Response, r.Status())
			return nil
		}
		for _, n := range r.Identities {
			fmt.Fprintln(w, n.String())
		}
	case *protocol.GatewayListResponse:
		if r.Response < 0 {
			fmt.Fprintf(w, "error %d: %s\n", r.Response, r.Status())
			return nil
		}
		for _, g := range r.Gateways {
			fmt.Fprintln(w, g.String())
		}
	}
	return nil
}
