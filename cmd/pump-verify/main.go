// Command pump-verify replays a single Pump bet from the command line.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/MJE43/pump-replay-go/internal/engine"
	"github.com/MJE43/pump-replay-go/internal/pump"
)

func main() {
	serverSeed := flag.String("server", "", "unhashed server seed")
	clientSeed := flag.String("client", "", "client seed")
	nonce := flag.Uint64("nonce", 1, "bet nonce")
	difficulty := flag.String("difficulty", "expert", "easy, medium, hard, expert, or all")
	flag.Parse()

	if *serverSeed == "" || *clientSeed == "" {
		log.Fatal("both -server and -client are required")
	}

	if *difficulty == "all" {
		eval := pump.NewEvaluator(engine.Seeds{Server: *serverSeed, Client: *clientSeed})
		for _, d := range pump.Difficulties() {
			out, err := eval.Outcome(*nonce, d)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%-8s nonce=%d pop=%2d pumps=%2d multiplier=%g\n",
				d, out.Nonce, out.PopPoint, out.SafePumps, out.Multiplier)
		}
		return
	}

	out, err := pump.Verify(*serverSeed, *clientSeed, *nonce, pump.Difficulty(*difficulty))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("nonce=%d difficulty=%s pop_point=%d max_pumps=%d max_multiplier=%g\n",
		out.Nonce, *difficulty, out.PopPoint, out.SafePumps, out.Multiplier)
}
