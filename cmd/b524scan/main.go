// Command b524scan drives a directory/instance/register discovery scan
// against a heating-regulator device reachable through an ebusd-style
// daemon TCP command port, and writes the resulting JSON artifact.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rob-gra/b524scan/artifact"
	"github.com/rob-gra/b524scan/clog"
	"github.com/rob-gra/b524scan/protocol/ident"
	"github.com/rob-gra/b524scan/scanner/plan"
	"github.com/rob-gra/b524scan/scanner/scan"
	"github.com/rob-gra/b524scan/transport"
	"github.com/rob-gra/b524scan/transport/ebusd"
	"github.com/rob-gra/b524scan/transport/replay"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Println("b524scan", version)
		return 0
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: b524scan <scan|browse|discover> [flags]")
		return 2
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "scan":
		return runScan(rest)
	case "browse":
		return runBrowse(rest)
	case "discover":
		return runDiscover(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", sub)
		return 2
	}
}

func newClient(host string, port int) (*ebusd.Client, clog.Clog, error) {
	cfg := transport.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	log := clog.NewLogger("b524scan ")
	client, err := ebusd.NewClient(cfg, log)
	return client, log, err
}

// parseDestination accepts "auto", a 0xHH hex literal, a bare hex byte or
// a decimal byte. For "auto" the daemon's info output is consulted and the
// lowest target address wins.
func parseDestination(ctx context.Context, client *ebusd.Client, raw string) (transport.Address, error) {
	if strings.EqualFold(raw, "auto") {
		lines, err := client.Info(ctx)
		if err != nil {
			return 0, fmt.Errorf("resolve destination: %w", err)
		}
		targets := ebusd.FilterTargets(lines)
		if len(targets) == 0 {
			return 0, errors.New("resolve destination: daemon reports no targets")
		}
		return targets[0], nil
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "0x"):
		v, err := strconv.ParseUint(lower[2:], 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid destination %q", raw)
		}
		return transport.Address(v), nil
	default:
		// Bare digits are decimal; anything with a-f is bare hex.
		if v, err := strconv.ParseUint(raw, 10, 8); err == nil {
			return transport.Address(v), nil
		}
		v, err := strconv.ParseUint(lower, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid destination %q", raw)
		}
		return transport.Address(v), nil
	}
}

// parseB509Ranges parses a comma-separated "0xSSSS..0xEEEE" range list.
func parseB509Ranges(raw string) ([][2]uint16, error) {
	if raw == "" {
		return nil, nil
	}
	var out [][2]uint16
	for _, part := range strings.Split(raw, ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		bounds := strings.SplitN(token, "..", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("range %q must use '..' (example: 0x2700..0x27FF)", token)
		}
		start, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(bounds[0])), "0x"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("range start %q: %v", bounds[0], err)
		}
		end, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(bounds[1])), "0x"), 16, 16)
		if err != nil {
			return nil, fmt.Errorf("range end %q: %v", bounds[1], err)
		}
		if start > end {
			start, end = end, start
		}
		out = append(out, [2]uint16{uint16(start), uint16(end)})
	}
	return out, nil
}

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "ebusd daemon host")
	port := fs.Int("port", 8888, "ebusd daemon port")
	dst := fs.String("dst", "auto", "destination bus address (auto, 0xHH or decimal)")
	preset := fs.String("preset", "recommended", "plan preset: conservative|recommended|aggressive|custom")
	outDir := fs.String("out", "", "output directory (default: stdout)")
	planFile := fs.String("plan-file", "", "YAML file of custom per-group overrides (custom preset only)")
	scanAbsent := fs.Bool("scan-absent", false, "sweep registers of non-present instances too")
	b509Spec := fs.String("b509", "", "comma-separated b509 dump ranges (example: 0x2700..0x27FF)")
	traceFile := fs.String("trace", "", "append request/response trace lines to this file")
	dryRun := fs.String("dry-run", "", "replay responses from this fixture artifact instead of a daemon")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ranges, err := parseB509Ranges(*b509Spec)
	if err != nil {
		fmt.Fprintln(os.Stderr, "b509:", err)
		return 2
	}

	client, log, err := newClient(*host, *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}
	defer client.Close()

	var base transport.RawTransport = client
	if *dryRun != "" {
		if strings.EqualFold(*dst, "auto") {
			fmt.Fprintln(os.Stderr, "dry-run: destination must be explicit, auto needs a daemon")
			return 2
		}
		base, err = replay.Load(*dryRun)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	var trace io.Writer
	if *traceFile != "" {
		f, err := os.OpenFile(*traceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "trace:", err)
			return 2
		}
		defer f.Close()
		trace = f
	}
	rt := transport.NewInstrumented(base, trace)

	planOpts := plan.Options{Preset: plan.Preset(*preset), ScanAbsent: *scanAbsent}
	if *planFile != "" {
		f, err := os.Open(*planFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "plan-file:", err)
			return 2
		}
		planOpts, err = plan.LoadCustomOptions(f)
		f.Close()
		if err != nil {
			fmt.Fprintln(os.Stderr, "plan-file:", err)
			return 2
		}
		planOpts.ScanAbsent = *scanAbsent
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	address, err := parseDestination(ctx, client, *dst)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	started := time.Now()
	a, err := scan.Run(ctx, rt, scan.Options{
		Destination:    address,
		DaemonEndpoint: fmt.Sprintf("%s:%d", *host, *port),
		Plan:           planOpts,
		B509Ranges:     ranges,
	}, scan.NoopObserver{}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scan:", err)
		return 1
	}

	if violations := artifact.Validate(a); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, "artifact violation:", v.String())
		}
	}

	return writeArtifact(a, *outDir, uint8(address), started)
}

func runDiscover(args []string) int {
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "ebusd daemon host")
	port := fs.Int("port", 8888, "ebusd daemon port")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client, _, err := newClient(*host, *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	lines, err := client.Info(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "info:", err)
		return 1
	}
	for _, addr := range ebusd.FilterTargets(lines) {
		fmt.Printf("0x%02x\n", uint8(addr))
	}
	return 0
}

// runBrowse lists the daemon's targets and asks each one to identify
// itself, printing manufacturer, device id and versions.
func runBrowse(args []string) int {
	fs := flag.NewFlagSet("browse", flag.ContinueOnError)
	host := fs.String("host", "127.0.0.1", "ebusd daemon host")
	port := fs.Int("port", 8888, "ebusd daemon port")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	client, _, err := newClient(*host, *port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lines, err := client.Info(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "info:", err)
		return 1
	}

	for _, addr := range ebusd.FilterTargets(lines) {
		reply, err := client.Request(ctx, addr, ident.Primary, ident.Secondary, nil)
		if err != nil {
			fmt.Printf("0x%02x: identification failed: %v\n", uint8(addr), err)
			continue
		}
		id, err := ident.ParseIdentification(reply)
		if err != nil {
			fmt.Printf("0x%02x: %v\n", uint8(addr), err)
			continue
		}
		fmt.Printf("0x%02x: %s (manufacturer 0x%02x, sw %s, hw %s)\n",
			uint8(addr), id.DeviceID, id.Manufacturer, id.SoftwareVersion, id.HardwareVersion)
	}
	return 0
}

func writeArtifact(a *artifact.Artifact, outDir string, dst uint8, started time.Time) int {
	b, err := artifact.Marshal(a)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal:", err)
		return 1
	}
	if outDir == "" {
		os.Stdout.Write(b)
		os.Stdout.Write([]byte("\n"))
		return 0
	}
	path := filepath.Join(outDir, artifact.FileName(dst, started))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		return 1
	}
	fmt.Println(path)
	return 0
}
