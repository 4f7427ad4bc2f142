// cmd/bitaxe-discover/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"bitaxe-monitor/internal/config"
	"bitaxe-monitor/internal/database"
	"bitaxe-monitor/internal/monitoring"
)

// maxHosts bounds a scan to a /16.
const maxHosts = 65536

// Discovered is one device that answered the AxeOS system info endpoint.
type Discovered struct {
	Address  string
	Hostname string
	Model    string
	Version  string
	HashRate float64
}

// DiscoveryFile is the include file written for the monitor.
type DiscoveryFile struct {
	Miners []config.MinerConfig `yaml:"miners"`
}

func main() {
	var (
		network = flag.String("network", "", "CIDR network to scan (e.g., 192.168.1.0/24)")
		output  = flag.String("output", "miners.yaml", "Output include file")
		port    = flag.Int("port", 80, "AxeOS HTTP port")
		workers = flag.Int("workers", 32, "Concurrent requests")
		timeout = flag.Duration("timeout", 2*time.Second, "Per-host request timeout")
		enabled = flag.Bool("enabled", true, "Mark discovered miners as enabled")
		verbose = flag.Bool("verbose", false, "Verbose output")
	)
	flag.Parse()

	if *network == "" {
		detected := detectLocalNetwork()
		if detected == "" {
			log.Fatal("No network specified and couldn't detect local network. Use -network flag.")
		}
		*network = detected
		fmt.Printf("Auto-detected network: %s\n", *network)
	}

	hosts, err := expandCIDR(*network)
	if err != nil {
		log.Fatalf("Invalid network: %v", err)
	}

	fmt.Printf("Scanning %d hosts in %s\n", len(hosts), *network)

	fetcher := monitoring.NewAxeOSFetcher(*timeout)
	found := scan(context.Background(), fetcher, hosts, *port, *workers, *verbose)

	file := buildDiscoveryFile(found, *enabled)
	if err := writeDiscoveryFile(file, *output); err != nil {
		log.Fatalf("Failed to write configuration: %v", err)
	}

	fmt.Printf("\nConfiguration written to: %s\n", *output)
	fmt.Printf("Discovered %d miners\n", len(file.Miners))
}

func detectLocalNetwork() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				if ipnet.IP.IsGlobalUnicast() {
					return ipnet.String()
				}
			}
		}
	}
	return ""
}

// expandCIDR lists the usable IPv4 host addresses of network. Network and
// broadcast addresses are skipped for prefixes shorter than /31.
func expandCIDR(network string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(network)
	if err != nil {
		return nil, err
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("only IPv4 networks are supported")
	}

	ones, bits := ipnet.Mask.Size()
	size := 1 << uint(bits-ones)
	if size > maxHosts {
		return nil, fmt.Errorf("network %s is larger than /16", network)
	}

	start := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	first, last := 0, size-1
	if size > 2 {
		first, last = 1, size-2
	}

	hosts := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		ip := start + uint32(i)
		hosts = append(hosts, net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).String())
	}
	return hosts, nil
}

// scan queries every host with a bounded worker pool and returns the miners
// that answered, sorted by address.
func scan(ctx context.Context, fetcher monitoring.Fetcher, hosts []string, port, workers int, verbose bool) []Discovered {
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	var (
		mu    sync.Mutex
		found []Discovered
		wg    sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for host := range jobs {
				address := host
				if port != 80 {
					address = net.JoinHostPort(host, strconv.Itoa(port))
				}

				d, err := identify(ctx, fetcher, address)
				if err != nil {
					if verbose {
						fmt.Printf("  %s: %v\n", address, err)
					}
					continue
				}

				fmt.Printf("  found %s (%s %s)\n", address, d.Hostname, d.Model)
				mu.Lock()
				found = append(found, *d)
				mu.Unlock()
			}
		}()
	}

	for _, host := range hosts {
		jobs <- host
	}
	close(jobs)
	wg.Wait()

	sort.Slice(found, func(i, j int) bool {
		return found[i].Address < found[j].Address
	})
	return found
}

func identify(ctx context.Context, fetcher monitoring.Fetcher, address string) (*Discovered, error) {
	body, err := fetcher.Fetch(ctx, config.MinerConfig{ID: address, Address: address})
	if err != nil {
		return nil, err
	}

	sample, err := database.ParseSample(body)
	if err != nil {
		return nil, err
	}
	if sample.HashRate == nil && sample.ASICModel == nil {
		return nil, fmt.Errorf("not an AxeOS device")
	}

	d := &Discovered{Address: address}
	if sample.Hostname != nil {
		d.Hostname = *sample.Hostname
	}
	if sample.ASICModel != nil {
		d.Model = *sample.ASICModel
	}
	if sample.Version != nil {
		d.Version = *sample.Version
	}
	if sample.HashRate != nil {
		d.HashRate = *sample.HashRate
	}
	return d, nil
}

func buildDiscoveryFile(found []Discovered, enabled bool) *DiscoveryFile {
	file := &DiscoveryFile{}
	used := make(map[string]int)

	for _, d := range found {
		id := generateMinerID(d)
		used[id]++
		if n := used[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}

		name := d.Hostname
		if name == "" {
			name = id
		}

		file.Miners = append(file.Miners, config.MinerConfig{
			ID:      id,
			Name:    name,
			Address: d.Address,
			Enabled: enabled,
		})
	}
	return file
}

func generateMinerID(d Discovered) string {
	if d.Hostname != "" {
		return strings.ToLower(strings.Split(d.Hostname, ".")[0])
	}

	host := d.Address
	if h, _, err := net.SplitHostPort(d.Address); err == nil {
		host = h
	}
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		return fmt.Sprintf("bitaxe-%s", parts[3])
	}
	return fmt.Sprintf("bitaxe-%s", strings.ReplaceAll(host, ".", "-"))
}

func writeDiscoveryFile(file *DiscoveryFile, filename string) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	header := fmt.Sprintf("# BitAxe Monitor miners\n# Generated by bitaxe-discover on %s\n# Contains %d miners\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		len(file.Miners))

	finalData := append([]byte(header), data...)

	if err := os.WriteFile(filename, finalData, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
