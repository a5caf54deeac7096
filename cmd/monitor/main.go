// cmd/monitor is an operational CLI for checking a running bankd/atmd
// deployment: a host resource snapshot plus a best-effort DeviceLink
// reachability probe for the card and HSM ports.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	psutilmem "github.com/shirou/gopsutil/v3/mem"

	"atmcore/internal/devicelink"
)

// HostSnapshot is a point-in-time resource reading for the machine
// monitor is run on.
type HostSnapshot struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	UptimeHours float64 `json:"uptime_hours"`
}

func takeHostSnapshot() (HostSnapshot, error) {
	var snap HostSnapshot

	cpuPercent, err := psutilcpu.Percent(0, false)
	if err != nil {
		return snap, fmt.Errorf("cpu percent: %w", err)
	}
	if len(cpuPercent) > 0 {
		snap.CPUPercent = cpuPercent[0]
	}

	memInfo, err := psutilmem.VirtualMemory()
	if err != nil {
		return snap, fmt.Errorf("mem info: %w", err)
	}
	snap.MemPercent = memInfo.UsedPercent

	uptimeSeconds, err := host.Uptime()
	if err != nil {
		return snap, fmt.Errorf("uptime: %w", err)
	}
	snap.UptimeHours = float64(uptimeSeconds) / 3600

	return snap, nil
}

// ProbeResult is the outcome of trying to attach a device link within a
// bounded timeout.
type ProbeResult struct {
	Role      string `json:"role"`
	Port      string `json:"port"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

func probeLink(role devicelink.Role, port string, timeout time.Duration) ProbeResult {
	result := ProbeResult{Role: role.String(), Port: port}
	if port == "" {
		result.Error = "no port configured"
		return result
	}

	factory := func(p string) (devicelink.Transport, error) { return devicelink.NewTTYTransport(p) }
	watcher := devicelink.NewPortWatcherWithLister(50*time.Millisecond, func() ([]string, error) {
		return []string{port}, nil
	})
	link := devicelink.NewLink(role, factory, watcher)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := link.Attach(ctx, false); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Reachable = true
	return result
}

// Report is the full monitor output: host stats plus zero or more device
// probes, depending on which -*-port flags were supplied.
type Report struct {
	Host   HostSnapshot  `json:"host"`
	Probes []ProbeResult `json:"probes,omitempty"`
}

func main() {
	cardPort := flag.String("card-port", "", "card serial port to probe")
	hsmPort := flag.String("hsm-port", "", "HSM serial port to probe")
	probeTimeout := flag.Duration("probe-timeout", 3*time.Second, "how long to wait for a device probe")
	asJSON := flag.Bool("json", false, "emit the report as JSON instead of a text summary")
	flag.Parse()

	report, err := buildReport(*cardPort, *hsmPort, *probeTimeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "monitor:", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintln(os.Stderr, "monitor: encode report:", err)
			os.Exit(1)
		}
		return
	}

	printReport(report)
}

func buildReport(cardPort, hsmPort string, probeTimeout time.Duration) (Report, error) {
	snap, err := takeHostSnapshot()
	if err != nil {
		return Report{}, err
	}

	report := Report{Host: snap}
	if cardPort != "" {
		report.Probes = append(report.Probes, probeLink(devicelink.RoleCard, cardPort, probeTimeout))
	}
	if hsmPort != "" {
		report.Probes = append(report.Probes, probeLink(devicelink.RoleHSM, hsmPort, probeTimeout))
	}
	return report, nil
}

func printReport(r Report) {
	fmt.Printf("cpu: %.1f%%  mem: %.1f%%  uptime: %.1fh\n", r.Host.CPUPercent, r.Host.MemPercent, r.Host.UptimeHours)
	for _, p := range r.Probes {
		status := "unreachable"
		if p.Reachable {
			status = "reachable"
		}
		line := fmt.Sprintf("%s (%s): %s", p.Role, p.Port, status)
		if p.Error != "" {
			line += " - " + p.Error
		}
		fmt.Println(line)
	}
}
