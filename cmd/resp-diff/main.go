package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/raniellyferreira/respwire"
	"github.com/raniellyferreira/respwire/protocol"
)

func main() {
	var refAddr = flag.String("ref", "", "Reference endpoint (host:port)")
	var sutAddr = flag.String("sut", "", "System under test endpoint (host:port)")
	var respFlag = flag.Int("resp", 2, "Protocol version to negotiate (2 or 3)")
	var password = flag.String("password", "", "Password for both endpoints")
	var timeout = flag.Duration("timeout", 5*time.Second, "Connect and read timeout")
	var jsonFlag = flag.Bool("json", false, "Print the report as JSON")
	var versionFlag = flag.Bool("version", false, "Print version information")
	var helpFlag = flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *versionFlag {
		info := respwire.VersionInfo()
		fmt.Printf("resp-diff %s (protocols %s, default %s)\n", info["version"], info["protocols"], info["default"])
		if commit, ok := info["commit"]; ok {
			fmt.Printf("  commit: %s\n", commit)
		}
		if built, ok := info["buildTime"]; ok {
			fmt.Printf("  built:  %s\n", built)
		}
		os.Exit(0)
	}

	if *helpFlag || *refAddr == "" || *sutAddr == "" || flag.NArg() == 0 {
		fmt.Println("RESP Reply Comparison Tool")
		fmt.Println("==========================")
		fmt.Println("Usage: resp-diff --ref=host:port --sut=host:port [--resp=2|3] [--json] COMMAND [args...]")
		fmt.Println("")
		fmt.Println("Flags:")
		fmt.Println("  --ref       Reference endpoint (e.g., localhost:6379)")
		fmt.Println("  --sut       System under test endpoint (e.g., localhost:6380)")
		fmt.Println("  --resp      Protocol version to negotiate, 2 or 3 (default 2)")
		fmt.Println("  --password  Password for both endpoints")
		fmt.Println("  --timeout   Connect and read timeout (default 5s)")
		fmt.Println("  --json      Print the report as JSON")
		fmt.Println("  --version   Print version information")
		fmt.Println("  --help      Show this help message")
		fmt.Println("")
		fmt.Println("Example:")
		fmt.Println("  resp-diff --ref=localhost:6379 --sut=localhost:6380 --resp=3 HGETALL user:1")
		os.Exit(0)
	}

	version := protocol.Version(*respFlag)
	if version != protocol.RESP2 && version != protocol.RESP3 {
		log.Fatalf("Unsupported protocol version %d", *respFlag)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*(*timeout)+time.Second)
	defer cancel()

	report, err := Run(ctx, Options{
		Ref:      *refAddr,
		SUT:      *sutAddr,
		Protocol: version,
		Password: *password,
		Timeout:  *timeout,
	}, flag.Args())
	if err != nil {
		log.Fatalf("Comparison failed: %v", err)
	}

	if *jsonFlag {
		if err := WriteJSON(os.Stdout, report); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
	} else {
		WriteText(os.Stdout, report)
	}

	if !report.Match {
		os.Exit(1)
	}
}
